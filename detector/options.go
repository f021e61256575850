package detector

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// GeneratorOptions is the interpreted form of the generator option strings.
// Options the generator does not understand are kept verbatim in Opaque.
type GeneratorOptions struct {
	PTHatMin float64 // PhaseSpace:pTHatMin, jet pT scale in GeV
	HardQCD  bool    // HardQCD:all, back-to-back jets
	SoftQCD  bool    // SoftQCD:nonDiffractive, soft underlying tracks
	Binary   bool    // Detector:binary, occupancy instead of energy
	Opaque   map[string]string
}

// DefaultGeneratorOptions returns soft tracks only with a 20 GeV jet scale.
func DefaultGeneratorOptions() GeneratorOptions {
	return GeneratorOptions{
		PTHatMin: 20.0,
		SoftQCD:  true,
		Opaque:   make(map[string]string),
	}
}

// ParseOptions interprets "Key:sub = value" strings on top of the defaults.
// Later options override earlier ones.
func ParseOptions(opts []string) (GeneratorOptions, error) {
	out := DefaultGeneratorOptions()
	for _, raw := range opts {
		key, value, found := strings.Cut(raw, "=")
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if !found || key == "" || value == "" {
			return out, fmt.Errorf("%w: %q is not of the form \"Key = value\"", ErrInvalidOption, raw)
		}

		var err error
		switch key {
		case "PhaseSpace:pTHatMin":
			out.PTHatMin, err = strconv.ParseFloat(value, 64)
			if err == nil && out.PTHatMin <= 0 {
				err = fmt.Errorf("must be positive")
			}
		case "HardQCD:all":
			out.HardQCD, err = parseSwitch(value)
		case "SoftQCD:nonDiffractive":
			out.SoftQCD, err = parseSwitch(value)
		case "Detector:binary":
			out.Binary, err = parseSwitch(value)
		default:
			logrus.Debugf("generator option %q passed through opaquely", key)
			out.Opaque[key] = value
		}
		if err != nil {
			return out, fmt.Errorf("%w: %s: %v", ErrInvalidOption, key, err)
		}
	}
	return out, nil
}

func parseSwitch(v string) (bool, error) {
	switch strings.ToLower(v) {
	case "on", "true", "yes", "1":
		return true, nil
	case "off", "false", "no", "0":
		return false, nil
	}
	return false, fmt.Errorf("%q is not on/off", v)
}
