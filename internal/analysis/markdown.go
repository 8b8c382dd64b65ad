package analysis

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/phrazzld/ziwei-api/internal/domain"
)

// ScopeFull exports every analysis of a result.
const ScopeFull = "full"

// parseScope accepts ScopeFull or a single analysis type.
func parseScope(scope string) (string, error) {
	scope = strings.TrimSpace(scope)
	if scope == "" || scope == ScopeFull {
		return ScopeFull, nil
	}
	if _, err := domain.ParseAnalysisType(scope); err != nil {
		return "", domain.ValidationError(domain.CodeInvalidRequest,
			"scope must be full|marriage_path|challenges|partner_character", err)
	}
	return scope, nil
}

func exportFilename(resultID int64, scope string) string {
	if scope == ScopeFull {
		return fmt.Sprintf("ziwei_%d.md", resultID)
	}
	return fmt.Sprintf("ziwei_%d_%s.md", resultID, scope)
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', -1, 64)
}

// RenderMarkdown renders a result as a Markdown report. scope restricts the
// analysis sections to one type unless it is ScopeFull.
func RenderMarkdown(r *domain.Result, scope string) string {
	var b strings.Builder
	line := func(format string, args ...any) {
		fmt.Fprintf(&b, format, args...)
		b.WriteByte('\n')
	}

	line("# 紫微斗数分析报告")
	line("")
	line("## 基本信息")
	line("- 日期: %s", r.Request.Date)
	line("- 时辰: %d", r.Request.Timezone)
	line("- 性别: %s", r.Request.Gender)
	line("- 历法: %s", r.Request.Calendar)
	line("- Provider: %s", r.Provider)
	line("- Model: %s", r.Model)
	line("- Prompt Version: %s", r.PromptVersion)
	line("- 总推理耗时: %s 秒", formatSeconds(r.TotalExecutionTime))
	line("- 总 Token 数量: %d", r.TotalTokenCount)
	line("")
	line("## 命盘描述")
	line("%s", r.Description)
	line("")

	for _, item := range r.OrderedItems() {
		if scope != ScopeFull && scope != string(item.Type) {
			continue
		}
		line("## %s", item.Type.Title())
		line("- 推理耗时: %s 秒", formatSeconds(item.ExecutionTime))
		line("- Token 数量: %d", item.TokenCount)
		line("")
		line("%s", item.Content)
		line("")
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

// cachedSummary is the text block CheckCache returns for each item.
func cachedSummary(item domain.Item) string {
	return fmt.Sprintf("推理耗时: %s秒\nToken 数量: %d\n\n%s",
		formatSeconds(item.ExecutionTime), item.TokenCount, item.Content)
}
