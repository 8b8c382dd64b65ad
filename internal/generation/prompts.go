package generation

import (
	"fmt"

	"github.com/phrazzld/ziwei-api/internal/domain"
)

// SystemPrompt frames every analysis request.
const SystemPrompt = "你是一个熟练紫微斗数的大师，请根据用户需求进行紫微斗数命盘分析。"

var promptTemplates = map[domain.AnalysisType]string{
	domain.AnalysisMarriagePath:     "参考紫微斗数思路对命主婚姻道路进行分析，命盘如下:\n%s",
	domain.AnalysisChallenges:       "参考紫微斗数思路对命主与另一半的困难和挑战进行分析，命盘如下:\n%s",
	domain.AnalysisPartnerCharacter: "参考紫微斗数思路对命主另一半的性格和人品进行分析，命盘如下:\n%s",
}

// BuildPrompt renders the prompt for one analysis type over a chart description.
func BuildPrompt(t domain.AnalysisType, description string) (string, error) {
	tmpl, ok := promptTemplates[t]
	if !ok {
		return "", domain.ValidationError(domain.CodeUnsupported, fmt.Sprintf("unsupported analysis type: %s", t), nil)
	}
	return fmt.Sprintf(tmpl, description), nil
}
