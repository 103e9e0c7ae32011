/*
Package deepfilternet streams noisy speech through the DeepFilterNet model
cascade frame by frame.

Concept

Every hop of samples is transformed into a spectrum and processed by three
model stages:

    enc   - computes embedding, skip tensors and local snr from features;
    dec   - predicts ERB band gains from embedding and skip tensors;
    dfnet - predicts deep filter coefficients from embedding.

The deep filter operator combines the spectrum history of each channel
with predicted coefficients and applies band gains. The result is
synthesized back into samples.

Stages

Stages are offline graphs converted into a streaming form with
stage.Build. A stage may lag its input by a number of frames. The pipeline
aligns stages and the spectrum:

    D = d(enc) + max(d(dec), d(dfnet))

The faster of the mask and coefficient paths is delayed to match the
slower one, and the spectrum is delayed by D. Output of the first D frames
is silence. The whole pipeline lags its input by D*hop + fft_size - hop
samples, see Pipeline.SampleDelay.

Channels

Each channel owns private stage runtimes, spectrum history and transform
state. Channels are processed in parallel and share nothing but compiled
stages.

States

    Ready     - stages are built, channel states are created;
    Streaming - frames are processed;
    Finished  - all channels are exhausted;
    Failed    - a channel failed, output produced so far is kept.
*/
package deepfilternet
