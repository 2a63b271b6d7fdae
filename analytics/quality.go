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

import "math"

// DefaultMinQuality is the quality score below which the engine degrades
// a prediction instead of trusting the model.
const DefaultMinQuality = 0.8

// maxFeatureMagnitude bounds what counts as a plausible feature value.
// Anything beyond it is treated as a corrupt reading.
const maxFeatureMagnitude = 1e6

// QualityReport scores an input feature vector before inference.
type QualityReport struct {
	// Completeness is the fraction of features that are present (not NaN).
	Completeness float64 `json:"completeness"`

	// Validity is the fraction of features that are finite and within
	// plausible bounds.
	Validity float64 `json:"validity"`

	// Score is the combined gate value, Completeness * Validity.
	Score float64 `json:"score"`
}

// assessQuality scores a feature vector. An empty vector scores zero.
func assessQuality(features []float64) QualityReport {
	if len(features) == 0 {
		return QualityReport{}
	}

	present := 0
	valid := 0
	for _, f := range features {
		if math.IsNaN(f) {
			continue
		}
		present++
		if !math.IsInf(f, 0) && math.Abs(f) <= maxFeatureMagnitude {
			valid++
		}
	}

	n := float64(len(features))
	report := QualityReport{
		Completeness: float64(present) / n,
		Validity:     float64(valid) / n,
	}
	report.Score = report.Completeness * report.Validity
	return report
}
