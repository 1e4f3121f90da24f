package ugoira

import (
	"fmt"
	"strings"
)

// DurationPolicy decides how a duration list shorter or longer than the
// frame list is applied
type DurationPolicy string

const (
	// PolicyStrict accepts one value for every frame or exactly one value
	// per frame
	PolicyStrict DurationPolicy = "strict"
	// PolicyUniform applies the first value to every frame
	PolicyUniform DurationPolicy = "uniform"
	// PolicyRepeatLast pads a short list with its last value
	PolicyRepeatLast DurationPolicy = "repeat_last"
)

// ParsePolicy parses a configured policy name
func ParsePolicy(s string) (DurationPolicy, error) {
	switch p := DurationPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicyStrict, PolicyUniform, PolicyRepeatLast:
		return p, nil
	case "":
		return PolicyStrict, nil
	default:
		return "", fmt.Errorf("unknown duration policy %q", s)
	}
}

// Delays returns the GIF delay of each of frames frames in centiseconds
func (p DurationPolicy) Delays(durationsMs []int, frames int) ([]int, error) {
	if len(durationsMs) == 0 {
		return nil, fmt.Errorf("no frame durations")
	}
	for _, d := range durationsMs {
		if d < 0 {
			return nil, fmt.Errorf("negative frame duration %d", d)
		}
	}

	ms := make([]int, frames)
	switch p {
	case PolicyUniform:
		for i := range ms {
			ms[i] = durationsMs[0]
		}
	case PolicyRepeatLast:
		for i := range ms {
			if i < len(durationsMs) {
				ms[i] = durationsMs[i]
			} else {
				ms[i] = durationsMs[len(durationsMs)-1]
			}
		}
	case PolicyStrict, "":
		switch len(durationsMs) {
		case 1:
			for i := range ms {
				ms[i] = durationsMs[0]
			}
		case frames:
			copy(ms, durationsMs)
		default:
			return nil, fmt.Errorf("%d durations for %d frames", len(durationsMs), frames)
		}
	default:
		return nil, fmt.Errorf("unknown duration policy %q", p)
	}

	delays := make([]int, frames)
	for i, d := range ms {
		delays[i] = (d + 5) / 10
	}
	return delays, nil
}
