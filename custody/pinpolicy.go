package custody

// PinLength is the fixed credential length.
const PinLength = 6

// PinStrength classifies a PIN that passed the rejection rules.
type PinStrength int

const (
	PinWeak PinStrength = iota
	PinAcceptable
	PinStrong
)

func (s PinStrength) String() string {
	switch s {
	case PinAcceptable:
		return "acceptable"
	case PinStrong:
		return "strong"
	default:
		return "weak"
	}
}

// Violation messages; Errors[0] is always the most actionable one.
const (
	msgPinLength     = "PIN must be exactly 6 digits"
	msgPinRepeated   = "PIN cannot be a single repeated digit"
	msgPinSequential = "PIN cannot be an ascending or descending sequence"
	msgPinCycle      = "PIN cannot repeat a short pattern"
)

// PinValidationResult is produced fresh on every validation, never persisted.
type PinValidationResult struct {
	Valid    bool
	Strength PinStrength
	Errors   []string
}

// ValidatePin checks a candidate PIN against the rejection rules and
// classifies its strength. Pure: no state, no secret retention.
//
// Rejected outright: non-6-digit input, a single repeated digit, a strictly
// ascending or descending sequence, and any 6 digits repeating a 2- or
// 3-digit cycle. Strong requires no digit occurring more than twice and no
// sequential run of length 3 or more.
func ValidatePin(pin string) PinValidationResult {
	if len(pin) != PinLength || !allDigits(pin) {
		return PinValidationResult{Errors: []string{msgPinLength}}
	}

	var errs []string
	if allSame(pin) {
		errs = append(errs, msgPinRepeated)
	} else {
		if sequential(pin) {
			errs = append(errs, msgPinSequential)
		}
		if shortCycle(pin) {
			errs = append(errs, msgPinCycle)
		}
	}
	if len(errs) > 0 {
		return PinValidationResult{Strength: PinWeak, Errors: errs}
	}

	strength := PinAcceptable
	if maxDigitCount(pin) <= 2 && longestRun(pin) < 3 {
		strength = PinStrong
	}
	return PinValidationResult{Valid: true, Strength: strength}
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func allSame(s string) bool {
	for i := 1; i < len(s); i++ {
		if s[i] != s[0] {
			return false
		}
	}
	return true
}

// sequential reports a strictly ascending or descending whole-PIN run.
func sequential(s string) bool {
	asc, desc := true, true
	for i := 1; i < len(s); i++ {
		d := int(s[i]) - int(s[i-1])
		if d != 1 {
			asc = false
		}
		if d != -1 {
			desc = false
		}
	}
	return asc || desc
}

// shortCycle reports a 2- or 3-digit pattern repeated across the whole PIN.
func shortCycle(s string) bool {
	for _, k := range []int{2, 3} {
		if len(s)%k != 0 {
			continue
		}
		cycle := true
		for i := k; i < len(s); i++ {
			if s[i] != s[i-k] {
				cycle = false
				break
			}
		}
		if cycle {
			return true
		}
	}
	return false
}

func maxDigitCount(s string) int {
	var counts [10]int
	max := 0
	for i := 0; i < len(s); i++ {
		d := s[i] - '0'
		counts[d]++
		if counts[d] > max {
			max = counts[d]
		}
	}
	return max
}

// longestRun returns the length of the longest run of consecutive digits
// stepping by +1 or -1.
func longestRun(s string) int {
	best, cur, dir := 1, 1, 0
	for i := 1; i < len(s); i++ {
		d := int(s[i]) - int(s[i-1])
		if d == 1 || d == -1 {
			if d == dir {
				cur++
			} else {
				cur = 2
				dir = d
			}
		} else {
			cur = 1
			dir = 0
		}
		if cur > best {
			best = cur
		}
	}
	return best
}
