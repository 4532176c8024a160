package file

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"

	applog "runhub/internal/platform/log"
)

// errUnsupported 不支持的文件类型（跳过，不报错）
var errUnsupported = errors.New("unsupported file type")

var (
	reMarkdownHeader = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	reMarkdownBold   = regexp.MustCompile(`\*\*(.+?)\*\*`)
	reMarkdownItalic = regexp.MustCompile(`\*(.+?)\*`)
	reMarkdownCode   = regexp.MustCompile("```[\\s\\S]*?```")
	reMarkdownInline = regexp.MustCompile("`([^`]+)`")
	reMarkdownLink   = regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`)
	reMarkdownImage  = regexp.MustCompile(`!\[([^\]]*)\]\([^)]+\)`)
	reXMLTag         = regexp.MustCompile(`<[^>]+>`)
	reMultiNewlines  = regexp.MustCompile(`\n{3,}`)
)

// parsed 单文件解析结果
type parsed struct {
	Title   string
	Content string
	Format  string
}

// parseFile 按扩展名解析文档文件为纯文本
func parseFile(path string, maxSize int64) (*parsed, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if maxSize > 0 && info.Size() > maxSize {
		return nil, fmt.Errorf("file too large: %d bytes", info.Size())
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".md", ".markdown":
		return parseMarkdown(path)
	case ".txt", ".text", ".rst":
		return parsePlainText(path, ext)
	case ".pdf":
		return parsePDF(path)
	case ".docx":
		return parseDOCX(path)
	default:
		return nil, errUnsupported
	}
}

// parseMarkdown 去除 Markdown 格式标记，提取首个一级标题
func parseMarkdown(path string) (*parsed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read markdown: %w", err)
	}
	text := string(data)

	title := ""
	for _, line := range strings.SplitN(text, "\n", 20) {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "# ") {
			title = strings.TrimPrefix(line, "# ")
			break
		}
	}

	// 代码块保留内容、去掉 ``` 标记
	text = reMarkdownCode.ReplaceAllStringFunc(text, func(s string) string {
		s = strings.TrimPrefix(s, "```")
		if idx := strings.Index(s, "\n"); idx >= 0 {
			s = s[idx+1:]
		}
		return strings.TrimSpace(strings.TrimSuffix(s, "```"))
	})

	text = reMarkdownImage.ReplaceAllString(text, "$1")
	text = reMarkdownLink.ReplaceAllString(text, "$1")
	text = reMarkdownBold.ReplaceAllString(text, "$1")
	text = reMarkdownItalic.ReplaceAllString(text, "$1")
	text = reMarkdownInline.ReplaceAllString(text, "$1")
	text = reMarkdownHeader.ReplaceAllString(text, "")
	text = reXMLTag.ReplaceAllString(text, "")

	return &parsed{
		Title:   title,
		Content: strings.TrimSpace(reMultiNewlines.ReplaceAllString(text, "\n\n")),
		Format:  "markdown",
	}, nil
}

func parsePlainText(path, ext string) (*parsed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read text: %w", err)
	}
	return &parsed{
		Content: strings.TrimSpace(string(data)),
		Format:  strings.TrimPrefix(ext, "."),
	}, nil
}

// parsePDF 逐页提取 PDF 文本
func parsePDF(path string) (*parsed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pdf: %w", err)
	}

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}

	var sb strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			applog.Warn("[Source/File] Failed to extract pdf page", "path", path, "page", i, "error", err)
			continue
		}
		if text = strings.TrimSpace(text); text != "" {
			sb.WriteString(text)
			sb.WriteString("\n\n")
		}
	}

	return &parsed{
		Content: strings.TrimSpace(reMultiNewlines.ReplaceAllString(sb.String(), "\n\n")),
		Format:  "pdf",
	}, nil
}

// parseDOCX 提取 Word 文档文本（docx 库返回 XML，需剥掉标签）
func parseDOCX(path string) (*parsed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read docx: %w", err)
	}

	r, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open docx: %w", err)
	}
	defer r.Close()

	content := r.Editable().GetContent()
	content = strings.ReplaceAll(content, "</w:p>", "\n")
	content = reXMLTag.ReplaceAllString(content, "")

	var sb strings.Builder
	for _, line := range strings.Split(content, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			sb.WriteString(line)
			sb.WriteString("\n")
		}
	}

	return &parsed{
		Content: strings.TrimSpace(reMultiNewlines.ReplaceAllString(sb.String(), "\n\n")),
		Format:  "docx",
	}, nil
}
