package llm

// RetryPolicy controls repeated attempts at structured generation. Each
// failed parse lowers the temperature by Backoff before the next attempt,
// never dropping below Floor.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     float64
	Floor       float64
}

// DefaultRetryPolicy mirrors the bound used for structured output: three
// attempts, cooling by 0.2 per retry down to 0.1.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Backoff:     0.2,
		Floor:       0.1,
	}
}

// Temperatures returns the temperature to use for each attempt, starting
// from the given initial value.
func (p RetryPolicy) Temperatures(initial float64) []float64 {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	out := make([]float64, attempts)
	temp := initial
	for i := 0; i < attempts; i++ {
		if temp < p.Floor {
			temp = p.Floor
		}
		out[i] = temp
		temp -= p.Backoff
	}
	return out
}
