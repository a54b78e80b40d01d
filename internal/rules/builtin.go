package rules

import (
	"net/mail"
	"regexp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

type transformFunc func(value, field string, row map[string]string, params map[string]string) (string, error)
type validateFunc func(value, field string, row map[string]string, params map[string]string) (valid bool, message string, err error)

func errUnknownOp(op string) error {
	return eris.Errorf("rules: unknown op %q", op)
}

var titleCaser = cases.Title(language.AmericanEnglish)

var transforms = map[string]transformFunc{
	"trim": func(value, _ string, _ map[string]string, _ map[string]string) (string, error) {
		return strings.TrimSpace(value), nil
	},
	"lowercase": func(value, _ string, _ map[string]string, _ map[string]string) (string, error) {
		return strings.ToLower(value), nil
	},
	"uppercase": func(value, _ string, _ map[string]string, _ map[string]string) (string, error) {
		return strings.ToUpper(value), nil
	},
	"titlecase": func(value, _ string, _ map[string]string, _ map[string]string) (string, error) {
		return titleCaser.String(value), nil
	},
	"collapse-whitespace": func(value, _ string, _ map[string]string, _ map[string]string) (string, error) {
		return strings.Join(strings.Fields(value), " "), nil
	},
	"state-normalize": func(value, _ string, _ map[string]string, _ map[string]string) (string, error) {
		key := strings.ToUpper(strings.TrimSpace(value))
		if full, ok := stateNames[key]; ok {
			return full, nil
		}
		return value, nil
	},
	"phone-normalize": func(value, _ string, _ map[string]string, _ map[string]string) (string, error) {
		digits := digitsOnly(value)
		if len(digits) == 11 && digits[0] == '1' {
			digits = digits[1:]
		}
		if len(digits) != 10 {
			return value, nil
		}
		return "(" + digits[:3] + ") " + digits[3:6] + "-" + digits[6:], nil
	},
	// default fills an empty value from params["value"].
	"default": func(value, _ string, _ map[string]string, params map[string]string) (string, error) {
		if strings.TrimSpace(value) == "" {
			return params["value"], nil
		}
		return value, nil
	},
}

var validators = map[string]validateFunc{
	"required": func(value, field string, _ map[string]string, _ map[string]string) (bool, string, error) {
		if strings.TrimSpace(value) == "" {
			return false, field + " is required", nil
		}
		return true, "", nil
	},
	"email-validate": func(value, _ string, _ map[string]string, _ map[string]string) (bool, string, error) {
		if strings.TrimSpace(value) == "" {
			return true, "", nil
		}
		if _, err := mail.ParseAddress(value); err != nil {
			return false, "invalid email address: " + value, nil
		}
		return true, "", nil
	},
	"state-validate": func(value, _ string, _ map[string]string, _ map[string]string) (bool, string, error) {
		if strings.TrimSpace(value) == "" {
			return true, "", nil
		}
		for _, full := range stateNames {
			if strings.EqualFold(value, full) {
				return true, "", nil
			}
		}
		return false, "not a recognized state name: " + value, nil
	},
	"phone-validate": func(value, _ string, _ map[string]string, _ map[string]string) (bool, string, error) {
		if strings.TrimSpace(value) == "" {
			return true, "", nil
		}
		n := len(digitsOnly(value))
		if n == 10 || n == 11 {
			return true, "", nil
		}
		return false, "invalid phone number: " + value, nil
	},
	"max-length": func(value, field string, _ map[string]string, params map[string]string) (bool, string, error) {
		max, err := strconv.Atoi(params["max"])
		if err != nil {
			return false, "", eris.Wrap(err, "rules: max-length param")
		}
		if len(value) > max {
			return false, field + " exceeds " + params["max"] + " characters", nil
		}
		return true, "", nil
	},
	"pattern": func(value, field string, _ map[string]string, params map[string]string) (bool, string, error) {
		if strings.TrimSpace(value) == "" {
			return true, "", nil
		}
		re, err := regexp.Compile(params["pattern"])
		if err != nil {
			return false, "", eris.Wrap(err, "rules: pattern param")
		}
		if !re.MatchString(value) {
			return false, field + " does not match expected format", nil
		}
		return true, "", nil
	},
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// stateNames maps USPS abbreviations to full state names.
var stateNames = map[string]string{
	"AL": "Alabama", "AK": "Alaska", "AZ": "Arizona", "AR": "Arkansas",
	"CA": "California", "CO": "Colorado", "CT": "Connecticut", "DE": "Delaware",
	"FL": "Florida", "GA": "Georgia", "HI": "Hawaii", "ID": "Idaho",
	"IL": "Illinois", "IN": "Indiana", "IA": "Iowa", "KS": "Kansas",
	"KY": "Kentucky", "LA": "Louisiana", "ME": "Maine", "MD": "Maryland",
	"MA": "Massachusetts", "MI": "Michigan", "MN": "Minnesota", "MS": "Mississippi",
	"MO": "Missouri", "MT": "Montana", "NE": "Nebraska", "NV": "Nevada",
	"NH": "New Hampshire", "NJ": "New Jersey", "NM": "New Mexico", "NY": "New York",
	"NC": "North Carolina", "ND": "North Dakota", "OH": "Ohio", "OK": "Oklahoma",
	"OR": "Oregon", "PA": "Pennsylvania", "RI": "Rhode Island", "SC": "South Carolina",
	"SD": "South Dakota", "TN": "Tennessee", "TX": "Texas", "UT": "Utah",
	"VT": "Vermont", "VA": "Virginia", "WA": "Washington", "WV": "West Virginia",
	"WI": "Wisconsin", "WY": "Wyoming", "DC": "District of Columbia",
}
