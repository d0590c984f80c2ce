package catalog

import (
	"fmt"
	"strings"
)

// Metal identifies the conductor material.
type Metal string

const (
	Copper    Metal = "copper"
	Aluminium Metal = "aluminium"
)

// Insulation identifies the conductor insulation material.
type Insulation string

const (
	XLPE Insulation = "xlpe"
	PVC  Insulation = "pvc"
)

// Voltage is the voltage rating class for power and control cable.
type Voltage string

const (
	LT Voltage = "lt"
	HT Voltage = "ht"
)

// Kind is the closed set of conductor classes the business trades in.
type Kind string

const (
	Power       Kind = "power"
	Control     Kind = "control"
	Flexible    Kind = "flexible"
	Submersible Kind = "submersible"
	Solar       Kind = "solar"
)

// Product describes one catalogue item. The Kind discriminator decides
// which fields are meaningful; Validate enforces that, and price
// resolution switches exhaustively on it.
type Product struct {
	Kind       Kind       `json:"kind"`
	Conductor  Metal      `json:"conductor"`
	Voltage    Voltage    `json:"voltage,omitempty"`
	Cores      int        `json:"cores"`
	SqMM       string     `json:"sqmm"`
	Insulation Insulation `json:"insulation,omitempty"`
	Armoured   bool       `json:"armoured,omitempty"`
	FRLS       bool       `json:"frls,omitempty"`
}

// Normalize canonicalises free-form field values so that "2.50", " 2.5 "
// and "2.5" resolve to the same catalogue entry.
func (p Product) Normalize() Product {
	p.Kind = Kind(strings.ToLower(strings.TrimSpace(string(p.Kind))))
	p.Conductor = Metal(strings.ToLower(strings.TrimSpace(string(p.Conductor))))
	p.Voltage = Voltage(strings.ToLower(strings.TrimSpace(string(p.Voltage))))
	p.Insulation = Insulation(strings.ToLower(strings.TrimSpace(string(p.Insulation))))
	p.SqMM = NormalizeDecimal(p.SqMM)
	return p
}

// Validate checks that every field is a member of the closed hierarchy.
func (p Product) Validate() error {
	switch p.Kind {
	case Power, Control:
		if p.Voltage != LT && p.Voltage != HT {
			return fmt.Errorf("%s cable requires voltage lt or ht, got %q", p.Kind, p.Voltage)
		}
	case Flexible, Submersible, Solar:
		if p.Voltage != "" {
			return fmt.Errorf("%s cable does not carry a voltage class", p.Kind)
		}
		if p.Conductor == Aluminium {
			return fmt.Errorf("%s cable is copper only", p.Kind)
		}
	default:
		return fmt.Errorf("unknown product kind %q", p.Kind)
	}

	switch p.Conductor {
	case Copper, Aluminium:
	default:
		return fmt.Errorf("unknown conductor %q", p.Conductor)
	}

	switch p.Insulation {
	case XLPE, PVC:
	case "":
		// defaults to XLPE at pricing time
	default:
		return fmt.Errorf("unknown insulation %q", p.Insulation)
	}

	if p.Cores <= 0 {
		return fmt.Errorf("cores must be positive, got %d", p.Cores)
	}
	if strings.TrimSpace(p.SqMM) == "" {
		return fmt.Errorf("sqmm is required")
	}
	return nil
}

// Describe renders the full commercial description used on quotes.
func (p Product) Describe() string {
	p = p.Normalize()
	switch p.Kind {
	case Power, Control:
		insulation := "XLPE"
		if p.Insulation == PVC {
			insulation = "PVC"
		}
		sheath := "PVC Sheathed"
		if p.FRLS {
			sheath = "FRLS PVC Sheathed"
		}
		armour := "Unarmoured"
		if p.Armoured {
			armour = "Armoured"
		}
		return fmt.Sprintf("%d C x %s sq. mm %s Insulated, %s %s %s %s Cable",
			p.Cores, p.SqMM, insulation, sheath, armour, conductorName(p.Conductor), strings.ToUpper(string(p.Voltage)))
	case Flexible:
		frls := ""
		if p.FRLS {
			frls = " FRLS"
		}
		return fmt.Sprintf("%d C x %s sq. mm Copper Flexible%s Cable", p.Cores, p.SqMM, frls)
	case Submersible:
		return fmt.Sprintf("%d C x %s sq. mm Submersible Flat Cable", p.Cores, p.SqMM)
	case Solar:
		return fmt.Sprintf("1 C x %s sq. mm Solar DC Cable", p.SqMM)
	}
	return fmt.Sprintf("%d C x %s sq. mm Cable", p.Cores, p.SqMM)
}

// Brief renders the short description used in chat replies.
func (p Product) Brief() string {
	p = p.Normalize()
	parts := []string{fmt.Sprintf("%dC x %smm²", p.Cores, p.SqMM), conductorShort(p.Conductor)}
	switch p.Kind {
	case Power, Control:
		if p.Insulation == PVC {
			parts = append(parts, "PVC")
		} else {
			parts = append(parts, "XLPE")
		}
		if p.FRLS {
			parts = append(parts, "FRLS")
		}
		if p.Armoured {
			parts = append(parts, "Armd")
		} else {
			parts = append(parts, "UnArm")
		}
		parts = append(parts, strings.ToUpper(string(p.Voltage)))
	case Flexible:
		parts = append(parts, "Flex")
		if p.FRLS {
			parts = append(parts, "FRLS")
		}
	case Submersible:
		parts = append(parts, "Subm")
	case Solar:
		parts = append(parts, "Solar")
	}
	return strings.Join(parts, " ")
}

func conductorName(m Metal) string {
	if m == Aluminium {
		return "Aluminium"
	}
	return "Copper"
}

func conductorShort(m Metal) string {
	if m == Aluminium {
		return "Al"
	}
	return "Cu"
}

// NormalizeDecimal trims trailing zeros and whitespace from a numeric
// size string, so "2.50" and "2.5" compare equal as map keys.
func NormalizeDecimal(s string) string {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, ".") {
		return s
	}
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}
