// Copyright 2025 Stratagem
// SPDX-License-Identifier: BUSL-1.1
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package analytics

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ridgeLambda is the L2 regularization strength. Small enough not to bias
// well-conditioned fits, large enough to keep near-collinear feature sets
// solvable.
const ridgeLambda = 1e-3

// linearModel is a ridge-regularized least-squares model. The bias term is
// folded in as an implicit leading feature of 1.
type linearModel struct {
	weights  []float64 // weights[0] is the intercept
	features int
}

// fitLinear solves (XᵀX + λI)w = Xᵀy for the given observations. All
// feature vectors must share the same length.
func fitLinear(points []DataPoint) (*linearModel, error) {
	if len(points) == 0 {
		return nil, fmt.Errorf("no training points")
	}
	nf := len(points[0].Features)
	if nf == 0 {
		return nil, fmt.Errorf("empty feature vectors")
	}

	rows := len(points)
	cols := nf + 1
	x := mat.NewDense(rows, cols, nil)
	y := mat.NewVecDense(rows, nil)
	for i, p := range points {
		if len(p.Features) != nf {
			return nil, fmt.Errorf("inconsistent feature length at sample %d: got %d, want %d", i, len(p.Features), nf)
		}
		x.Set(i, 0, 1.0)
		for j, f := range p.Features {
			x.Set(i, j+1, f)
		}
		y.SetVec(i, p.Target)
	}

	var xtx mat.Dense
	xtx.Mul(x.T(), x)
	for i := 0; i < cols; i++ {
		xtx.Set(i, i, xtx.At(i, i)+ridgeLambda)
	}

	var xty mat.VecDense
	xty.MulVec(x.T(), y)

	var w mat.VecDense
	if err := w.SolveVec(&xtx, &xty); err != nil {
		return nil, fmt.Errorf("solving normal equations: %w", err)
	}

	weights := make([]float64, cols)
	copy(weights, w.RawVector().Data)
	return &linearModel{weights: weights, features: nf}, nil
}

// predict evaluates the model on one feature vector.
func (m *linearModel) predict(features []float64) (float64, error) {
	if len(features) != m.features {
		return 0, fmt.Errorf("feature length mismatch: got %d, want %d", len(features), m.features)
	}
	v := m.weights[0]
	for i, f := range features {
		v += m.weights[i+1] * f
	}
	return v, nil
}

// absErrors returns |prediction - target| for each point. Points whose
// feature vectors do not fit the model are skipped.
func (m *linearModel) absErrors(points []DataPoint) []float64 {
	errs := make([]float64, 0, len(points))
	for _, p := range points {
		pred, err := m.predict(p.Features)
		if err != nil {
			continue
		}
		errs = append(errs, math.Abs(pred-p.Target))
	}
	return errs
}

// accuracy scores the model on labeled points as 1 minus the mean absolute
// error normalized by the target range. Degenerate ranges fall back to an
// absolute tolerance.
func (m *linearModel) accuracy(points []DataPoint) float64 {
	if len(points) == 0 {
		return 0
	}
	lo, hi := points[0].Target, points[0].Target
	for _, p := range points[1:] {
		if p.Target < lo {
			lo = p.Target
		}
		if p.Target > hi {
			hi = p.Target
		}
	}

	errs := m.absErrors(points)
	if len(errs) == 0 {
		return 0
	}
	var total float64
	for _, e := range errs {
		total += e
	}
	mae := total / float64(len(errs))

	span := hi - lo
	if span < 1e-12 {
		if mae < 1e-6 {
			return 1.0
		}
		return 0
	}

	acc := 1.0 - mae/span
	if acc < 0 {
		return 0
	}
	return acc
}
