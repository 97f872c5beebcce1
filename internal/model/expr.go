package model

// Term is one coefficient-weighted variable.
type Term struct {
	Var  int     `json:"var"`
	Coef float64 `json:"coef"`
}

// LoadTerm is a base load attenuated by one pass-through factor per group:
// Base * prod_g (1 - sum_{t in Groups[g]} t.Coef * x[t.Var]).
type LoadTerm struct {
	Base   float64  `json:"base"`
	Groups [][]Term `json:"groups"`
}

// Expr is a serializable expression over the program variables:
//
//	Constant + sum Terms + Scale * sum Loads
//
// An Expr whose loads each have at most one group is linear.
type Expr struct {
	Constant float64    `json:"constant,omitempty"`
	Terms    []Term     `json:"terms,omitempty"`
	Scale    float64    `json:"scale,omitempty"`
	Loads    []LoadTerm `json:"loads,omitempty"`
}

// Linear reports whether no load term multiplies two or more factors.
func (e Expr) Linear() bool {
	for _, l := range e.Loads {
		if len(l.Groups) > 1 {
			return false
		}
	}
	return true
}

// Affine returns offset + scale*e.
func (e Expr) Affine(scale, offset float64) Expr {
	out := Expr{Constant: offset + scale*e.Constant, Scale: scale * e.Scale, Loads: e.Loads}
	if len(e.Terms) > 0 {
		out.Terms = make([]Term, len(e.Terms))
		for i, t := range e.Terms {
			out.Terms[i] = Term{Var: t.Var, Coef: scale * t.Coef}
		}
	}
	if len(out.Loads) == 0 {
		out.Scale = 0
	}
	return out
}

func factor(group []Term, x []float64) float64 {
	f := 1.0
	for _, t := range group {
		f -= t.Coef * x[t.Var]
	}
	return f
}

// Value evaluates the expression at x.
func (e Expr) Value(x []float64) float64 {
	v := e.Constant
	for _, t := range e.Terms {
		v += t.Coef * x[t.Var]
	}
	if len(e.Loads) == 0 {
		return v
	}
	var loads float64
	for _, l := range e.Loads {
		prod := l.Base
		for _, g := range l.Groups {
			prod *= factor(g, x)
		}
		loads += prod
	}
	return v + e.Scale*loads
}

// AddGradient adds w times the gradient of e at x into grad.
func (e Expr) AddGradient(x []float64, w float64, grad []float64) {
	for _, t := range e.Terms {
		grad[t.Var] += w * t.Coef
	}
	for _, l := range e.Loads {
		n := len(l.Groups)
		if n == 0 {
			continue
		}
		f := make([]float64, n)
		for i, g := range l.Groups {
			f[i] = factor(g, x)
		}
		// prefix[i] = prod f[:i], suffix[i] = prod f[i+1:]
		prefix := make([]float64, n)
		suffix := make([]float64, n)
		prefix[0], suffix[n-1] = 1, 1
		for i := 1; i < n; i++ {
			prefix[i] = prefix[i-1] * f[i-1]
		}
		for i := n - 2; i >= 0; i-- {
			suffix[i] = suffix[i+1] * f[i+1]
		}
		for i, g := range l.Groups {
			others := w * e.Scale * l.Base * prefix[i] * suffix[i]
			for _, t := range g {
				grad[t.Var] -= others * t.Coef
			}
		}
	}
}

// Gradient returns the gradient of e at x over n variables.
func (e Expr) Gradient(x []float64, n int) []float64 {
	g := make([]float64, n)
	e.AddGradient(x, 1, g)
	return g
}
