package stage

// Canonical port names.
const (
	PortFeatErb  = "feat_erb"
	PortFeatSpec = "feat_spec"
	PortH0Emb    = "h0emb"
	PortE0       = "e0"
	PortE1       = "e1"
	PortE2       = "e2"
	PortE3       = "e3"
	PortEmb      = "emb"
	PortC0       = "c0"
	PortLsnr     = "lsnr"
	PortMask     = "m"
	PortHDF      = "hdf"
	PortCoefs    = "coefs"
	PortAlpha    = "alpha"
	PortSpec     = "spec"
	PortSpecD    = "spec_d"
)

// Stage names.
const (
	NameEncoder   = "enc"
	NameDecoder   = "dec"
	NameDFNet     = "dfnet"
	NameDelaySpec = "dfop_delayspec"
)

func port(name string, shape ...Dim) Port {
	return Port{Name: name, Shape: shape}
}

// Encoder produces embedding, skip tensors and local snr from features.
func Encoder() Spec {
	s := Stream()
	convCh := Key("conv_ch")
	return Spec{
		Name: NameEncoder,
		Inputs: []Port{
			port(PortFeatErb, Fixed(1), Fixed(1), s, Key("nb_erb")),
			port(PortFeatSpec, Fixed(1), Fixed(2), s, Key("nb_df")),
		},
		Outputs: []Port{
			port(PortE0, Fixed(1), convCh, s, Key("nb_erb")),
			port(PortE1, Fixed(1), Key("conv_ch", "conv_width_factor"), s, Key("nb_erb").Div(2)),
			port(PortE2, Fixed(1), Key("conv_ch", "conv_width_factor", "conv_width_factor"), s, Key("nb_erb").Div(4)),
			port(PortE3, Fixed(1), Key("conv_ch", "conv_width_factor", "conv_width_factor"), s, Key("nb_erb").Div(4)),
			port(PortEmb, Fixed(1), s, Key("emb_hidden_dim")),
			port(PortC0, Fixed(1), convCh, s, Key("nb_df")),
			port(PortLsnr, Fixed(1), s, Fixed(1)),
		},
		Constants: []Port{
			port(PortH0Emb, Fixed(1), Fixed(1), Key("emb_hidden_dim").DivKey("gru_groups")),
		},
	}
}

// Decoder predicts the ERB band mask.
func Decoder() Spec {
	s := Stream()
	e3 := Key("conv_ch", "conv_width_factor", "conv_width_factor")
	return Spec{
		Name: NameDecoder,
		Inputs: []Port{
			port(PortEmb, Fixed(1), s, Key("emb_hidden_dim")),
			port(PortE3, Fixed(1), e3, s, Key("nb_erb").Div(4)),
			port(PortE2, Fixed(1), e3, s, Key("nb_erb").Div(4)),
			port(PortE1, Fixed(1), Key("conv_ch", "conv_width_factor"), s, Key("nb_erb").Div(2)),
			port(PortE0, Fixed(1), Key("conv_ch"), s, Key("nb_erb")),
		},
		Outputs: []Port{
			port(PortMask, Fixed(1), Fixed(1), s, Key("nb_erb")),
		},
	}
}

// DFNet predicts deep filter coefficients and the blend weight.
func DFNet() Spec {
	s := Stream()
	return Spec{
		Name: NameDFNet,
		Inputs: []Port{
			port(PortEmb, Fixed(1), s, Key("emb_hidden_dim")),
			port(PortC0, Fixed(1), Key("conv_ch"), s, Key("nb_df")),
		},
		Outputs: []Port{
			port(PortCoefs, Fixed(1), s, Key("df_order"), Key("nb_df"), Fixed(2)),
			port(PortAlpha, Fixed(1), s, Fixed(1)),
		},
		Constants: []Port{
			port(PortHDF, Key("df_num_layers"), Fixed(1), Key("df_hidden_dim").DivKey("gru_groups")),
		},
	}
}

// DelaySpec delays the full spectrum.
func DelaySpec() Spec {
	freq := Key("fft_size").Div(2).Plus(1)
	return Spec{
		Name:    NameDelaySpec,
		Inputs:  []Port{port(PortSpec, Stream(), freq, Fixed(2))},
		Outputs: []Port{port(PortSpecD, Stream(), freq, Fixed(2))},
	}
}
