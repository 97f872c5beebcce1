package solver

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"

	"github.com/KaramelBytes/bmpopt/internal/model"
)

const (
	// zeroWidth is the upper bound at or below which a variable is fixed at 0.
	zeroWidth = 1e-12
	// simplexTol is the reduced-cost tolerance handed to the simplex.
	simplexTol = 1e-10
	minDelta   = 1e-6
	minStep    = 1e-9
	// largeTableau is the subproblem size in bytes above which Solve warns.
	largeTableau = 256 << 20
)

// SLP is a sequential linear programming solver. Each iteration linearizes
// the objective and active rows at the current point and solves the LP
// restricted to a trust region, in two simplex phases: an elastic phase that
// minimizes total row violation, then the objective with each row relaxed by
// the violation the first phase could not remove. Linear programs are solved
// by a single subproblem.
//
// Subproblems are dense: with r active rows and f free variables each one
// holds a (r+f) x 2(r+f) float64 tableau, so memory grows quadratically with
// the watershed. Programs past a few thousand variables belong on the remote
// solver.
type SLP struct {
	maxIter   int
	tol       float64
	log       *zap.Logger
	warnBytes int
}

// NewSLP returns an SLP solver. tol is the relative row feasibility tolerance.
func NewSLP(maxIter int, tol float64, log *zap.Logger) *SLP {
	if log == nil {
		log = zap.NewNop()
	}
	return &SLP{maxIter: maxIter, tol: tol, log: log, warnBytes: largeTableau}
}

func (s *SLP) Name() string { return NameSLP }

// Solve runs the iteration from x = 0.
func (s *SLP) Solve(ctx context.Context, p *model.Program) (*Result, error) {
	if p == nil {
		return nil, errors.New("slp: nil program")
	}
	var rows []model.Row
	for _, r := range p.Rows {
		if r.Active {
			rows = append(rows, r)
		}
	}
	var free []int
	for i, v := range p.Vars {
		if v.Upper > zeroWidth {
			free = append(free, i)
		}
	}
	sign := 1.0
	if p.Objective.Sense == model.Maximize {
		sign = -1
	}
	if size := tableauBytes(len(rows), len(free)); size > s.warnBytes {
		s.log.Warn("slp subproblem is large; consider the remote solver",
			zap.Int("rows", len(rows)),
			zap.Int("free_vars", len(free)),
			zap.Int("tableau_bytes", size),
		)
	}
	linear := p.Linear()
	x := make([]float64, len(p.Vars))
	res := &Result{Solver: NameSLP}

	delta := 1.0
	for iter := 1; iter <= s.maxIter && len(free) > 0; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res.Iterations = iter
		sub := newSubproblem(p, rows, free, x, delta, sign)
		y, err := sub.solve()
		if err != nil {
			return nil, fmt.Errorf("slp iteration %d: %w", iter, err)
		}
		cand, step := sub.apply(x, y)
		if linear {
			x = cand
			break
		}
		hz, hx := s.violation(p, rows, x), s.violation(p, rows, cand)
		fz, fx := sign*p.Objective.Value(x), sign*p.Objective.Value(cand)
		accepted := false
		switch {
		case hz > s.tol:
			accepted = hx < hz || (hx <= hz && fx < fz)
		default:
			accepted = hx <= s.tol && fx < fz
		}
		s.log.Debug("slp step",
			zap.Int("iter", iter),
			zap.Float64("delta", delta),
			zap.Float64("step", step),
			zap.Float64("violation", hx),
			zap.Float64("objective", sign*fx),
			zap.Bool("accepted", accepted),
		)
		if step < minStep {
			break
		}
		if accepted {
			converged := hz <= s.tol && hx <= s.tol && math.Abs(fz-fx) <= 1e-10*(1+math.Abs(fz))
			x = cand
			delta = math.Min(1, 2*delta)
			if converged {
				break
			}
			continue
		}
		delta /= 2
		if delta < minDelta {
			break
		}
	}

	res.Values = x
	res.Objective = p.Objective.Value(x)
	h := s.violation(p, rows, x)
	switch {
	case h <= s.tol:
		res.Status = StatusOptimal
	case linear:
		res.Status = StatusInfeasible
		res.Message = fmt.Sprintf("linear program infeasible: minimum total row violation %.6g", h)
	default:
		res.Status = StatusOther
		res.Message = fmt.Sprintf("no feasible point found after %d iterations: row violation %.6g", res.Iterations, h)
	}
	s.log.Info("slp finished",
		zap.String("status", string(res.Status)),
		zap.Int("iterations", res.Iterations),
		zap.Float64("objective", res.Objective),
	)
	return res, nil
}

// violation sums the relative violation of the active rows at x.
func (s *SLP) violation(p *model.Program, rows []model.Row, x []float64) float64 {
	var h float64
	for _, r := range rows {
		g, lim := r.Expr.Value(x), p.Limit(r)
		if math.IsNaN(g) {
			return math.Inf(1)
		}
		var v float64
		if r.Bound == model.Lower {
			v = lim - g
		} else {
			v = g - lim
		}
		if v > 0 {
			h += v / math.Max(1, math.Abs(lim))
		}
	}
	return h
}

// subproblem is the trust-region LP around one point z, in standard form.
// Columns: y (shifted steps, one per free variable), s (row slacks),
// e (row elastics), t (box slacks). Rows: one per active row, one box row
// per free variable.
type subproblem struct {
	free  []int
	upper []float64
	lo    []float64
	nr    int

	a     [][]float64 // row gradients over free variables
	rhs   []float64
	lower []bool
	width []float64
	cost  []float64 // objective gradient over free variables, minimize form
}

func newSubproblem(p *model.Program, rows []model.Row, free []int, z []float64, delta, sign float64) *subproblem {
	n, nf := len(p.Vars), len(free)
	sp := &subproblem{
		free:  free,
		upper: make([]float64, nf),
		lo:    make([]float64, nf),
		width: make([]float64, nf),
		cost:  make([]float64, nf),
		nr:    len(rows),
	}
	for j, v := range free {
		u := p.Vars[v].Upper
		sp.upper[j] = u
		sp.lo[j] = math.Max(-z[v], -delta*u)
		sp.width[j] = math.Min(u-z[v], delta*u) - sp.lo[j]
		if sp.width[j] < 0 {
			sp.width[j] = 0
		}
	}
	grad := make([]float64, n)
	for _, part := range p.Objective.Parts {
		if part.Active {
			part.Expr.AddGradient(z, sign, grad)
		}
	}
	for j, v := range free {
		sp.cost[j] = grad[v]
	}
	for _, r := range rows {
		g := r.Expr.Gradient(z, n)
		coef := make([]float64, nf)
		shift := 0.0
		for j, v := range free {
			coef[j] = g[v]
			shift += g[v] * sp.lo[j]
		}
		sp.a = append(sp.a, coef)
		sp.rhs = append(sp.rhs, p.Limit(r)-r.Expr.Value(z)-shift)
		sp.lower = append(sp.lower, r.Bound == model.Lower)
	}
	return sp
}

// tableauBytes is the memory of one dense subproblem matrix.
func tableauBytes(rows, free int) int {
	m := rows + free
	return m * 2 * m * 8
}

// solve returns the shifted step y. It allocates the full
// (nr+nf) x 2(nf+nr) constraint matrix; see tableauBytes.
func (sp *subproblem) solve() ([]float64, error) {
	nf, nr := len(sp.free), sp.nr
	m := nr + nf
	ys, ss, es, ts := 0, nf, nf+nr, nf+2*nr
	cols := 2*nf + 2*nr

	// Phase 1: minimize total elastic from a diagonal basis.
	A := mat.NewDense(m, cols, nil)
	b := make([]float64, m)
	basis := make([]int, m)
	c1 := make([]float64, cols)
	for i := 0; i < nr; i++ {
		for j := 0; j < nf; j++ {
			A.Set(i, ys+j, sp.a[i][j])
		}
		b[i] = sp.rhs[i]
		sCoef, eCoef := 1.0, -1.0
		if sp.lower[i] {
			sCoef, eCoef = -1, 1
		}
		A.Set(i, ss+i, sCoef)
		A.Set(i, es+i, eCoef)
		c1[es+i] = 1
		// The basic column must take the value b[i] / coef >= 0.
		if b[i]*sCoef >= 0 {
			basis[i] = ss + i
		} else {
			basis[i] = es + i
		}
	}
	for j := 0; j < nf; j++ {
		A.Set(nr+j, ys+j, 1)
		A.Set(nr+j, ts+j, 1)
		b[nr+j] = sp.width[j]
		basis[nr+j] = ts + j
	}
	_, x1, err := lp.Simplex(c1, A, b, simplexTol, basis)
	if err != nil {
		return nil, fmt.Errorf("elastic phase: %w", err)
	}
	y := append([]float64(nil), x1[ys:ys+nf]...)

	// Phase 2: objective over the rows relaxed by the residual elastic.
	cols2 := 2*nf + nr
	ts2 := nf + nr
	A2 := mat.NewDense(m, cols2, nil)
	b2 := make([]float64, m)
	c2 := make([]float64, cols2)
	copy(c2, sp.cost)
	for i := 0; i < nr; i++ {
		for j := 0; j < nf; j++ {
			A2.Set(i, ys+j, sp.a[i][j])
		}
		e := x1[es+i]
		if sp.lower[i] {
			A2.Set(i, ss+i, -1)
			b2[i] = sp.rhs[i] - e
		} else {
			A2.Set(i, ss+i, 1)
			b2[i] = sp.rhs[i] + e
		}
	}
	for j := 0; j < nf; j++ {
		A2.Set(nr+j, ys+j, 1)
		A2.Set(nr+j, ts2+j, 1)
		b2[nr+j] = sp.width[j]
	}
	_, x2, err := lp.Simplex(c2, A2, b2, simplexTol, nil)
	if err != nil {
		// The elastic point is feasible for phase 2; keep it when the
		// simplex stalls numerically.
		return y, nil
	}
	return x2[ys : ys+nf], nil
}

// apply moves z by the step encoded in y and returns the candidate point
// and the largest step relative to each variable's upper bound.
func (sp *subproblem) apply(z, y []float64) ([]float64, float64) {
	out := append([]float64(nil), z...)
	var step float64
	for j, v := range sp.free {
		d := y[j] + sp.lo[j]
		nx := math.Min(math.Max(z[v]+d, 0), sp.upper[j])
		step = math.Max(step, math.Abs(nx-z[v])/sp.upper[j])
		out[v] = nx
	}
	return out, step
}
