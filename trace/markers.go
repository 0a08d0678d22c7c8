// Package trace recomputes the step-to-code traceability map from the
// procedure JSON and the generated Python test code.
package trace

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// stepMarkerPattern matches "# Step N" comment lines, case-insensitive.
var stepMarkerPattern = regexp.MustCompile(`(?i)^#\s*step\s+(\d+)\b`)

// StepBlock is a region of test code associated with a step marker.
// Lines are 1-based and inclusive.
type StepBlock struct {
	StepNumber int    `json:"step_number"`
	StartLine  int    `json:"start_line"`
	EndLine    int    `json:"end_line"`
	Marker     string `json:"marker"`
	Text       string `json:"-"`
}

// LineCount returns the number of lines in the block.
func (b StepBlock) LineCount() int {
	return b.EndLine - b.StartLine + 1
}

// MarkerParser extracts step blocks from Python test code using tree-sitter.
// Only real comment nodes count as markers, so "# Step 1" inside a string
// literal is ignored. Safe for concurrent use; every Parse call runs its
// own tree-sitter parser.
type MarkerParser struct{}

// NewMarkerParser creates a parser for Python step markers.
func NewMarkerParser() *MarkerParser {
	return &MarkerParser{}
}

// Parse extracts step blocks from code. Each block runs from its marker line
// to the line before the next marker, or to the end of the file. The result
// is sorted by step number.
func (m *MarkerParser) Parse(ctx context.Context, code string) ([]StepBlock, error) {
	if strings.TrimSpace(code) == "" {
		return nil, nil
	}

	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())
	defer parser.Close()

	content := []byte(code)
	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("parse test code: %w", err)
	}
	defer tree.Close()

	type marker struct {
		line int
		num  int
		text string
	}
	var markers []marker

	var walk func(node *sitter.Node)
	walk = func(node *sitter.Node) {
		if node.Type() == "comment" {
			text := string(content[node.StartByte():node.EndByte()])
			if match := stepMarkerPattern.FindStringSubmatch(text); match != nil {
				num, convErr := strconv.Atoi(match[1])
				if convErr == nil {
					markers = append(markers, marker{
						line: int(node.StartPoint().Row) + 1,
						num:  num,
						text: text,
					})
				}
			}
			return
		}
		for i := 0; i < int(node.ChildCount()); i++ {
			walk(node.Child(i))
		}
	}
	walk(tree.RootNode())

	if len(markers) == 0 {
		return nil, nil
	}

	sort.Slice(markers, func(i, j int) bool { return markers[i].line < markers[j].line })

	lines := strings.Split(code, "\n")
	totalLines := len(lines)

	blocks := make([]StepBlock, 0, len(markers))
	for i, mk := range markers {
		endLine := totalLines
		if i+1 < len(markers) {
			endLine = markers[i+1].line - 1
		}
		blocks = append(blocks, StepBlock{
			StepNumber: mk.num,
			StartLine:  mk.line,
			EndLine:    endLine,
			Marker:     mk.text,
			Text:       strings.Join(lines[mk.line-1:endLine], "\n"),
		})
	}

	sort.SliceStable(blocks, func(i, j int) bool { return blocks[i].StepNumber < blocks[j].StepNumber })
	return blocks, nil
}

