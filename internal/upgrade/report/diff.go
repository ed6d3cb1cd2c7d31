package report

import (
	"fmt"
	"strings"
)

const diffContext = 3

type diffOp struct {
	kind byte // ' ', '-', '+'
	text string
	aIdx int // old lines consumed before this op
	bIdx int // new lines consumed before this op
}

// UnifiedDiff renders a unified diff between two versions of a file with
// three lines of context. Equal contents produce "".
func UnifiedDiff(oldContent, newContent, name string) string {
	if oldContent == newContent {
		return ""
	}
	a := splitLines(oldContent)
	b := splitLines(newContent)
	ops := diffOps(a, b)

	var out strings.Builder
	fmt.Fprintf(&out, "--- old/%s\n+++ new/%s\n", name, name)
	for _, g := range groupChanges(ops) {
		writeHunk(&out, ops[g[0]:g[1]])
	}
	return out.String()
}

func splitLines(s string) []string {
	lines := strings.Split(s, "\n")
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	return lines
}

// diffOps produces the edit script via a longest-common-subsequence table.
func diffOps(a, b []string) []diffOp {
	n, m := len(a), len(b)
	lcs := make([][]int, n+1)
	for i := range lcs {
		lcs[i] = make([]int, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if a[i] == b[j] {
				lcs[i][j] = lcs[i+1][j+1] + 1
			} else if lcs[i+1][j] >= lcs[i][j+1] {
				lcs[i][j] = lcs[i+1][j]
			} else {
				lcs[i][j] = lcs[i][j+1]
			}
		}
	}

	var ops []diffOp
	i, j := 0, 0
	for i < n && j < m {
		switch {
		case a[i] == b[j]:
			ops = append(ops, diffOp{' ', a[i], i, j})
			i++
			j++
		case lcs[i+1][j] >= lcs[i][j+1]:
			ops = append(ops, diffOp{'-', a[i], i, j})
			i++
		default:
			ops = append(ops, diffOp{'+', b[j], i, j})
			j++
		}
	}
	for ; i < n; i++ {
		ops = append(ops, diffOp{'-', a[i], i, j})
	}
	for ; j < m; j++ {
		ops = append(ops, diffOp{'+', b[j], i, j})
	}
	return ops
}

// groupChanges returns [start,end) op ranges per hunk, each padded with up
// to diffContext equal lines and merged when their context would overlap.
func groupChanges(ops []diffOp) [][2]int {
	var groups [][2]int
	i := 0
	for i < len(ops) {
		if ops[i].kind == ' ' {
			i++
			continue
		}
		start, end := i, i
		equalRun := 0
		for j := i + 1; j < len(ops); j++ {
			if ops[j].kind == ' ' {
				equalRun++
				if equalRun > 2*diffContext {
					break
				}
				continue
			}
			equalRun = 0
			end = j
		}
		gs := start - diffContext
		if gs < 0 {
			gs = 0
		}
		ge := end + 1 + diffContext
		if ge > len(ops) {
			ge = len(ops)
		}
		groups = append(groups, [2]int{gs, ge})
		i = ge
	}
	return groups
}

func writeHunk(out *strings.Builder, ops []diffOp) {
	oldCount, newCount := 0, 0
	for _, op := range ops {
		if op.kind != '+' {
			oldCount++
		}
		if op.kind != '-' {
			newCount++
		}
	}
	oldStart := ops[0].aIdx + 1
	if oldCount == 0 {
		oldStart--
	}
	newStart := ops[0].bIdx + 1
	if newCount == 0 {
		newStart--
	}
	fmt.Fprintf(out, "@@ -%d,%d +%d,%d @@\n", oldStart, oldCount, newStart, newCount)
	for _, op := range ops {
		out.WriteByte(op.kind)
		out.WriteString(op.text)
		out.WriteByte('\n')
	}
}
