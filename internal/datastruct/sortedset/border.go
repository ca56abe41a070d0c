package sortedset

import (
	"errors"
	"strconv"
)

const (
	negativeInf int8 = -1
	positiveInf int8 = 1
)

// ScoreBorder represents one endpoint of a ZRANGEBYSCORE-style range:
// a plain value, +inf, -inf, or an exclusive value (the "(10" form).
type ScoreBorder struct {
	Inf     int8
	Value   float64
	Exclude bool
}

// greater reports whether value is within the upper border: call this
// on the max border only, never on the min border.
func (border *ScoreBorder) greater(value float64) bool {
	if border.Inf == negativeInf {
		return false
	} else if border.Inf == positiveInf {
		return true
	}
	if border.Exclude {
		return border.Value > value
	}
	return border.Value >= value
}

// less reports whether value is within the lower border: call this on
// the min border only, never on the max border.
func (border *ScoreBorder) less(value float64) bool {
	if border.Inf == negativeInf {
		return true
	} else if border.Inf == positiveInf {
		return false
	}
	if border.Exclude {
		return border.Value < value
	}
	return border.Value <= value
}

var positiveInfBorder = &ScoreBorder{Inf: positiveInf}

var negativeInfBorder = &ScoreBorder{Inf: negativeInf}

// ParseScoreBorder parses a ZRANGEBYSCORE-style min/max token.
func ParseScoreBorder(s string) (*ScoreBorder, error) {
	if s == "inf" || s == "+inf" {
		return positiveInfBorder, nil
	}
	if s == "-inf" {
		return negativeInfBorder, nil
	}
	if s[0] == '(' {
		value, err := strconv.ParseFloat(s[1:], 64)
		if err != nil {
			return nil, errors.New("ERR min or max is not a float")
		}
		return &ScoreBorder{Inf: 0, Value: value, Exclude: true}, nil
	}
	value, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, errors.New("ERR min or max is not a float")
	}
	return &ScoreBorder{Inf: 0, Value: value, Exclude: false}, nil
}
