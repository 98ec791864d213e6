package pack

import "fmt"

// Framework is a compliance framework controls can map to.
type Framework string

const (
	SOC2      Framework = "soc2"
	NIST80053 Framework = "nist-800-53"
	ISO27001  Framework = "iso-27001"
	PCIDSS    Framework = "pci-dss"
	DISASTIG  Framework = "disa-stig"
)

// Frameworks lists every supported framework in report order.
var Frameworks = []Framework{SOC2, NIST80053, ISO27001, PCIDSS, DISASTIG}

func (f Framework) Slug() string { return string(f) }

func (f Framework) DisplayName() string {
	switch f {
	case SOC2:
		return "SOC 2"
	case NIST80053:
		return "NIST 800-53"
	case ISO27001:
		return "ISO 27001"
	case PCIDSS:
		return "PCI DSS"
	case DISASTIG:
		return "DISA STIG"
	}
	return string(f)
}

// ParseFramework accepts the slug or its underscore form (nist_800_53).
func ParseFramework(s string) (Framework, error) {
	switch s {
	case "soc2":
		return SOC2, nil
	case "nist-800-53", "nist_800_53":
		return NIST80053, nil
	case "iso-27001", "iso_27001":
		return ISO27001, nil
	case "pci-dss", "pci_dss":
		return PCIDSS, nil
	case "disa-stig", "disa_stig":
		return DISASTIG, nil
	}
	return "", fmt.Errorf("unknown framework %q (want soc2, nist-800-53, iso-27001, pci-dss or disa-stig)", s)
}

// Mapping returns the framework control ids a control maps to.
func (c Compliance) Mapping(f Framework) []string {
	switch f {
	case SOC2:
		return c.SOC2
	case NIST80053:
		return c.NIST80053
	case ISO27001:
		return c.ISO27001
	case PCIDSS:
		return c.PCIDSS
	case DISASTIG:
		return c.DISASTIG
	}
	return nil
}
