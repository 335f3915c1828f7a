package classifier

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"tabscope/pkg/models"
)

// Classifier scores a page's DOM against eight independent signals and
// assigns a coarse platform category with a confidence. Analyze is
// deterministic for a given DOM snapshot and performs read-only queries only.
type Classifier struct{}

func New() *Classifier {
	return &Classifier{}
}

// selectorWeight pairs a DOM signature with the score it contributes.
type selectorWeight struct {
	selector string
	weight   int
	feature  string
}

// Known editor signatures, strongest first. Only the first match counts.
var editorSelectors = []selectorWeight{
	{".monaco-editor", 10, "Monaco editor"},
	{".CodeMirror", 10, "CodeMirror editor"},
	{".cm-editor", 10, "CodeMirror 6 editor"},
	{".ace_editor", 10, "Ace editor"},
	{`[class*="code-editor"]`, 7, "generic code editor"},
	{`[class*="editor-container"]`, 7, "editor container"},
	{`textarea[class*="code"]`, 5, "code textarea"},
}

var terminalSelectors = []selectorWeight{
	{".xterm", 10, "xterm terminal"},
	{".terminal", 10, "terminal pane"},
	{`[class*="terminal"]`, 10, "terminal-like pane"},
	{`[class*="console"]`, 10, "console pane"},
}

var fileSystemSelectors = []selectorWeight{
	{`[class*="file-tree"]`, 10, "file tree"},
	{`[class*="file-explorer"]`, 10, "file explorer"},
	{`[class*="filetree"]`, 10, "file tree"},
	{`[class*="directory-tree"]`, 10, "directory tree"},
}

var highlighterFragments = []string{"hljs", "prism", "shiki", "cm-s-", "highlight"}

var executionKeywords = []string{"run", "execute", "compile", "submit", "test", "debug", "build"}

var docKeywords = []string{"docs", "documentation", "api reference", "reference", "guide", "tutorial", "manual"}

var learningKeywords = []string{
	"course", "lesson", "exercise", "quiz", "learn", "practice",
	"challenge", "certificate", "curriculum", "enroll",
}

// Analyze inspects the DOM snapshot and returns the scored classification.
func (c *Classifier) Analyze(doc *goquery.Document, hostname string) *models.PlatformAnalysis {
	analysis := &models.PlatformAnalysis{Hostname: hostname}

	c.detectCodeEditor(doc, analysis)
	blocks := c.detectCodeBlocks(doc, analysis)
	c.detectSyntaxHighlighting(doc, analysis)
	c.detectFirstMatch(doc, terminalSelectors, &analysis.Scores.Terminal, analysis)
	c.detectFirstMatch(doc, fileSystemSelectors, &analysis.Scores.FileSystem, analysis)
	c.detectExecution(doc, analysis)
	c.detectDocumentation(doc, analysis, blocks)
	c.detectLearning(doc, analysis)

	c.classify(analysis)
	return analysis
}

func (c *Classifier) detectCodeEditor(doc *goquery.Document, analysis *models.PlatformAnalysis) {
	for _, sw := range editorSelectors {
		if doc.Find(sw.selector).Length() > 0 {
			analysis.Scores.CodeEditor = sw.weight
			analysis.Features = append(analysis.Features, sw.feature)
			return
		}
	}
}

func (c *Classifier) detectFirstMatch(doc *goquery.Document, selectors []selectorWeight, score *int, analysis *models.PlatformAnalysis) {
	for _, sw := range selectors {
		if doc.Find(sw.selector).Length() > 0 {
			*score = sw.weight
			analysis.Features = append(analysis.Features, sw.feature)
			return
		}
	}
}

// detectCodeBlocks returns the block count for reuse by the documentation
// detector.
func (c *Classifier) detectCodeBlocks(doc *goquery.Document, analysis *models.PlatformAnalysis) int {
	blocks := doc.Find("pre, code")
	count := blocks.Length()
	if count == 0 {
		return 0
	}

	weight := 2 * count
	if weight > 20 {
		weight = 20
	}

	longBlocks := 0
	blocks.Each(func(_ int, s *goquery.Selection) {
		if strings.Count(s.Text(), "\n") >= 3 {
			longBlocks++
		}
	})
	if longBlocks > 2 {
		weight += 5
	}

	analysis.Scores.CodeBlocks = weight
	analysis.Features = append(analysis.Features, fmt.Sprintf("%d code blocks", count))
	return count
}

func (c *Classifier) detectSyntaxHighlighting(doc *goquery.Document, analysis *models.PlatformAnalysis) {
	for _, fragment := range highlighterFragments {
		if doc.Find(`[class*="`+fragment+`"]`).Length() > 0 {
			analysis.Scores.SyntaxHighlight = 8
			analysis.Features = append(analysis.Features, "syntax highlighting ("+fragment+")")
			break
		}
	}

	tokens := doc.Find(`.token, [class*="language-"], [class*="hljs-"]`).Length()
	if tokens > 5 {
		analysis.Scores.SyntaxHighlight += 5
	}
}

func (c *Classifier) detectExecution(doc *goquery.Document, analysis *models.PlatformAnalysis) {
	found := []string{}
	doc.Find("button").Each(func(_ int, s *goquery.Selection) {
		text := strings.ToLower(strings.TrimSpace(s.Text()))
		if text == "" {
			return
		}
		for _, keyword := range executionKeywords {
			if strings.Contains(text, keyword) {
				analysis.Scores.Execution += 8
				found = append(found, keyword)
			}
		}
	})
	if len(found) > 0 {
		analysis.Features = append(analysis.Features, "execution controls: "+strings.Join(found, ", "))
	}
}

func (c *Classifier) detectDocumentation(doc *goquery.Document, analysis *models.PlatformAnalysis, blockCount int) {
	title := strings.ToLower(doc.Find("title").Text())
	description, _ := doc.Find(`meta[name="description"]`).Attr("content")
	haystack := title + " " + strings.ToLower(description)

	for _, keyword := range docKeywords {
		if strings.Contains(haystack, keyword) {
			analysis.Scores.Documentation = 5
			analysis.Features = append(analysis.Features, "documentation keywords")
			break
		}
	}

	if blockCount >= 3 && blockCount <= 10 {
		analysis.Scores.Documentation += 8
	}
}

func (c *Classifier) detectLearning(doc *goquery.Document, analysis *models.PlatformAnalysis) {
	body := strings.ToLower(doc.Find("body").Text())

	found := 0
	for _, keyword := range learningKeywords {
		if strings.Contains(body, keyword) {
			found++
		}
	}
	if found >= 3 {
		analysis.Scores.Learning = 3 * found
		analysis.Features = append(analysis.Features, fmt.Sprintf("%d learning keywords", found))
	}
}

// classify applies the tie-break table, first matching rule wins.
func (c *Classifier) classify(analysis *models.PlatformAnalysis) {
	s := analysis.Scores

	switch {
	case s.CodeEditor >= 8 && s.FileSystem >= 8 && s.Terminal >= 8:
		analysis.Type, analysis.Category, analysis.Confidence = "Full IDE", "ide", 0.95
	case s.CodeEditor >= 8 && s.Execution >= 8:
		analysis.Type, analysis.Category, analysis.Confidence = "Code Playground", "playground", 0.90
	case s.CodeEditor >= 8:
		analysis.Type, analysis.Category, analysis.Confidence = "Code Editor", "editor", 0.85
	case s.Learning >= 10 && s.CodeBlocks >= 10:
		analysis.Type, analysis.Category, analysis.Confidence = "Coding Challenge", "challenge", 0.88
	case s.Documentation >= 10 && s.CodeBlocks >= 8:
		analysis.Type, analysis.Category, analysis.Confidence = "Documentation", "documentation", 0.82
	case s.CodeBlocks >= 15 || s.SyntaxHighlight >= 10:
		analysis.Type, analysis.Category, analysis.Confidence = "Coding Platform", "coding", 0.75
	case s.Total() >= 20:
		analysis.Type, analysis.Category, analysis.Confidence = "Tech Platform", "tech", 0.60
	default:
		analysis.Type, analysis.Category, analysis.Confidence = "Web", "web", 0.50
	}

	if analysis.Hostname == "localhost" || analysis.Hostname == "127.0.0.1" {
		analysis.Type = "Local " + analysis.Type
		analysis.Category = "localhost-" + analysis.Category
	}
}
