package api

import "maps"

// Args is a generic name/value bag used for step inputs and outcomes
type Args map[string]any

// Clone returns a shallow copy of the args
func (a Args) Clone() Args {
	if a == nil {
		return nil
	}
	return maps.Clone(a)
}

// Merge returns a new Args containing this bag overlaid with other
func (a Args) Merge(other Args) Args {
	res := make(Args, len(a)+len(other))
	maps.Copy(res, a)
	maps.Copy(res, other)
	return res
}
