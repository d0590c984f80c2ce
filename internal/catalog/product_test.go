package catalog

import "testing"

func TestValidateClosedHierarchy(t *testing.T) {
	cases := []struct {
		name    string
		product Product
		wantErr bool
	}{
		{
			name:    "power lt copper",
			product: Product{Kind: Power, Conductor: Copper, Voltage: LT, Cores: 4, SqMM: "2.5"},
		},
		{
			name:    "control ht aluminium",
			product: Product{Kind: Control, Conductor: Aluminium, Voltage: HT, Cores: 3, SqMM: "95"},
		},
		{
			name:    "flexible without voltage",
			product: Product{Kind: Flexible, Conductor: Copper, Cores: 3, SqMM: "1.5"},
		},
		{
			name:    "power missing voltage",
			product: Product{Kind: Power, Conductor: Copper, Cores: 4, SqMM: "2.5"},
			wantErr: true,
		},
		{
			name:    "flexible aluminium rejected",
			product: Product{Kind: Flexible, Conductor: Aluminium, Cores: 3, SqMM: "1.5"},
			wantErr: true,
		},
		{
			name:    "unknown kind",
			product: Product{Kind: "coaxial", Conductor: Copper, Cores: 1, SqMM: "1"},
			wantErr: true,
		},
		{
			name:    "zero cores",
			product: Product{Kind: Power, Conductor: Copper, Voltage: LT, Cores: 0, SqMM: "2.5"},
			wantErr: true,
		},
		{
			name:    "bad insulation",
			product: Product{Kind: Power, Conductor: Copper, Voltage: LT, Cores: 4, SqMM: "2.5", Insulation: "rubber"},
			wantErr: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.product.Validate()
			if tc.wantErr && err == nil {
				t.Fatal("expected error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestNormalizeDecimal(t *testing.T) {
	cases := map[string]string{
		"2.50":  "2.5",
		" 2.5 ": "2.5",
		"240":   "240",
		"4.00":  "4",
		"0.75":  "0.75",
	}
	for in, want := range cases {
		if got := NormalizeDecimal(in); got != want {
			t.Errorf("NormalizeDecimal(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDescribePowerLT(t *testing.T) {
	p := Product{Kind: Power, Conductor: Aluminium, Voltage: LT, Cores: 4, SqMM: "240", Armoured: true, FRLS: true}
	want := "4 C x 240 sq. mm XLPE Insulated, FRLS PVC Sheathed Armoured Aluminium LT Cable"
	if got := p.Describe(); got != want {
		t.Fatalf("Describe() = %q, want %q", got, want)
	}
}
