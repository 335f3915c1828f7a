package observers

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"tabscope/internal/logging"
	"tabscope/pkg/models"
)

const (
	codeScanInterval = 10 * time.Second
	maxSnippetLength = 1000
	maxAncestorHops  = 3
)

// CodeBlock is one extracted piece of code with its guessed language and the
// DOM shape it came from.
type CodeBlock struct {
	Language string `json:"language"`
	Snippet  string `json:"snippet"`
	Source   string `json:"source"`
}

// CodeBlockObserver periodically scans the page snapshot for code in plain
// pre/code elements and in three embedded-editor DOM shapes. A failure
// reading any single editor is logged and skipped, never fatal to the scan.
type CodeBlockObserver struct {
	tracking bool
	deadline time.Time
}

func NewCodeBlockObserver() *CodeBlockObserver {
	return &CodeBlockObserver{}
}

func (o *CodeBlockObserver) Start(now time.Time) {
	if o.tracking {
		logging.Warn("code block observer already started")
		return
	}
	o.tracking = true
	o.deadline = now.Add(codeScanInterval)
}

func (o *CodeBlockObserver) Stop() {
	if !o.tracking {
		return
	}
	o.tracking = false
}

// Deadline reports when the next scan is due.
func (o *CodeBlockObserver) Deadline() (time.Time, bool) {
	return o.deadline, o.tracking
}

// Scan extracts code blocks from the snapshot and rearms the interval. It
// returns nil when the page has no code.
func (o *CodeBlockObserver) Scan(doc *goquery.Document, now time.Time) []models.Event {
	if !o.tracking {
		return nil
	}
	o.deadline = now.Add(codeScanInterval)
	if doc == nil {
		return nil
	}

	blocks := o.Extract(doc)
	if len(blocks) == 0 {
		return nil
	}

	return []models.Event{{
		Type:      models.EventCodeBlocks,
		Timestamp: now,
		Data: mustJSON(map[string]interface{}{
			"count":  len(blocks),
			"blocks": blocks,
		}),
	}}
}

func (o *CodeBlockObserver) Status() Status {
	return Status{IsTracking: o.tracking}
}

// Extract runs every extractor over the snapshot. Embedded-editor failures
// degrade to a logged debug line.
func (o *CodeBlockObserver) Extract(doc *goquery.Document) []CodeBlock {
	var blocks []CodeBlock

	blocks = append(blocks, extractPlainBlocks(doc)...)

	for _, extract := range []struct {
		name string
		fn   func(*goquery.Document) ([]CodeBlock, error)
	}{
		{"monaco", extractMonaco},
		{"codemirror", extractCodeMirror},
		{"ace", extractAce},
	} {
		found, err := extract.fn(doc)
		if err != nil {
			logging.Debug("code scan: %s extraction failed: %v", extract.name, err)
			continue
		}
		blocks = append(blocks, found...)
	}

	return blocks
}

// extractPlainBlocks reads ordinary pre/code elements, skipping anything that
// belongs to an embedded editor and collapsing pre>code nesting.
func extractPlainBlocks(doc *goquery.Document) []CodeBlock {
	var blocks []CodeBlock
	doc.Find("pre, code").
		Not(".monaco-editor pre, .monaco-editor code, .CodeMirror pre, .CodeMirror code, .ace_editor pre, .ace_editor code").
		Each(func(_ int, s *goquery.Selection) {
			if s.Is("code") && s.Parent().Is("pre") {
				return
			}
			text := strings.TrimSpace(s.Text())
			if text == "" {
				return
			}
			blocks = append(blocks, CodeBlock{
				Language: guessLanguage(s, text),
				Snippet:  truncateSnippet(text),
				Source:   "dom",
			})
		})
	return blocks
}

// extractMonaco reads Monaco editors through their rendered view lines.
func extractMonaco(doc *goquery.Document) ([]CodeBlock, error) {
	var blocks []CodeBlock
	var firstErr error

	doc.Find(".monaco-editor").Each(func(i int, editor *goquery.Selection) {
		lines := editor.Find(".view-lines .view-line")
		if lines.Length() == 0 {
			if firstErr == nil {
				firstErr = fmt.Errorf("monaco editor %d has no rendered view lines", i)
			}
			return
		}

		var parts []string
		lines.Each(func(_ int, line *goquery.Selection) {
			parts = append(parts, line.Text())
		})
		text := strings.TrimSpace(strings.Join(parts, "\n"))
		if text == "" {
			return
		}

		language, ok := editor.Attr("data-mode-id")
		if !ok || language == "" {
			language = sniffLanguage(text)
		}
		blocks = append(blocks, CodeBlock{
			Language: language,
			Snippet:  truncateSnippet(text),
			Source:   "monaco",
		})
	})

	return blocks, firstErr
}

// extractCodeMirror reads CodeMirror 5 instances through their line nodes.
func extractCodeMirror(doc *goquery.Document) ([]CodeBlock, error) {
	var blocks []CodeBlock
	var firstErr error

	doc.Find(".CodeMirror").Each(func(i int, editor *goquery.Selection) {
		lines := editor.Find(".CodeMirror-code .CodeMirror-line")
		if lines.Length() == 0 {
			if firstErr == nil {
				firstErr = fmt.Errorf("codemirror instance %d has no line nodes", i)
			}
			return
		}

		var parts []string
		lines.Each(func(_ int, line *goquery.Selection) {
			parts = append(parts, line.Text())
		})
		text := strings.TrimSpace(strings.Join(parts, "\n"))
		if text == "" {
			return
		}

		language, ok := editor.Attr("data-mode")
		if !ok || language == "" {
			language = sniffLanguage(text)
		}
		blocks = append(blocks, CodeBlock{
			Language: language,
			Snippet:  truncateSnippet(text),
			Source:   "codemirror",
		})
	})

	return blocks, firstErr
}

// extractAce reads Ace editors through their content lines.
func extractAce(doc *goquery.Document) ([]CodeBlock, error) {
	var blocks []CodeBlock
	var firstErr error

	doc.Find(".ace_editor").Each(func(i int, editor *goquery.Selection) {
		content := editor.Find(".ace_content")
		if content.Length() == 0 {
			if firstErr == nil {
				firstErr = fmt.Errorf("ace editor %d has no content node", i)
			}
			return
		}

		var parts []string
		content.Find(".ace_line").Each(func(_ int, line *goquery.Selection) {
			parts = append(parts, line.Text())
		})
		text := strings.TrimSpace(strings.Join(parts, "\n"))
		if text == "" {
			return
		}

		blocks = append(blocks, CodeBlock{
			Language: sniffLanguage(text),
			Snippet:  truncateSnippet(text),
			Source:   "ace",
		})
	})

	return blocks, firstErr
}

var classLanguageRe = regexp.MustCompile(`(?:language|lang)-([a-zA-Z0-9+#]+)`)

// guessLanguage checks the element and up to three ancestors for an explicit
// language class, then falls back to a content sniff.
func guessLanguage(s *goquery.Selection, text string) string {
	node := s
	for hop := 0; hop <= maxAncestorHops && node.Length() > 0; hop++ {
		if class, ok := node.Attr("class"); ok {
			if m := classLanguageRe.FindStringSubmatch(class); m != nil {
				return strings.ToLower(m[1])
			}
		}
		node = node.Parent()
	}
	return sniffLanguage(text)
}

var languagePatterns = []struct {
	name string
	re   *regexp.Regexp
}{
	{"python", regexp.MustCompile(`(?m)^\s*(def |import |from )\w|print\(`)},
	{"go", regexp.MustCompile(`(?m)^package \w+|func \w+\(|fmt\.`)},
	{"javascript", regexp.MustCompile(`function \w*\(|=>\s|const \w+ =|console\.log`)},
	{"java", regexp.MustCompile(`public (class|static)|System\.out`)},
	{"c", regexp.MustCompile(`#include\s*<|int main\(`)},
	{"sql", regexp.MustCompile(`(?i)\bselect\b[\s\S]*\bfrom\b`)},
	{"html", regexp.MustCompile(`</?[a-z][a-z0-9]*[^>]*>`)},
}

// sniffLanguage guesses from content with a handful of well-known keyword
// patterns.
func sniffLanguage(text string) string {
	for _, p := range languagePatterns {
		if p.re.MatchString(text) {
			return p.name
		}
	}
	return "unknown"
}

func truncateSnippet(text string) string {
	runes := []rune(text)
	if len(runes) > maxSnippetLength {
		return string(runes[:maxSnippetLength])
	}
	return text
}
