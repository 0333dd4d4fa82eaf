// Copyright 2023-2024 The Tern Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package array

// LowerBound returns the first position whose element is >= v, assuming the
// array is sorted ascending. The 32- and 64-bit widths take branch-free
// specializations since index nodes and key arrays live at those widths.
func (arr *Array) LowerBound(v int64) int {
	switch arr.width {
	case 32:
		return lowerBound32(arr.body(), arr.size, v)
	case 64:
		return lowerBound64(arr.body(), arr.size, v)
	}
	lo, hi := 0, arr.size
	body := arr.body()
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if getDirect(body, arr.width, mid) < v {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// UpperBound returns the first position whose element is > v.
func (arr *Array) UpperBound(v int64) int {
	lo, hi := 0, arr.size
	body := arr.body()
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if getDirect(body, arr.width, mid) <= v {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// lowerBound32 is a branchless binary search over 32-bit elements: the probe
// adjustment is computed as an arithmetic mask instead of a conditional
// branch, keeping the search pipeline-friendly on the hot index paths.
func lowerBound32(body []byte, size int, v int64) int {
	base := 0
	n := size
	for n > 1 {
		half := n / 2
		probe := getDirect(body, 32, base+half-1)
		// mask is all ones when probe < v.
		mask := int((probe - v) >> 63)
		base += half & mask
		n -= half
	}
	if n == 1 && base < size && getDirect(body, 32, base) < v {
		base++
	}
	return base
}

func lowerBound64(body []byte, size int, v int64) int {
	base := 0
	n := size
	for n > 1 {
		half := n / 2
		probe := getDirect(body, 64, base+half-1)
		var adv int
		if probe < v {
			adv = half
		}
		base += adv
		n -= half
	}
	if n == 1 && base < size && getDirect(body, 64, base) < v {
		base++
	}
	return base
}
