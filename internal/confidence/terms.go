package confidence

import "strings"

// Immigration vocabulary used as a relevance heuristic. Multi-word phrases
// are matched by substring, not token equality.
var englishTerms = []string{
	"visa", "green card", "immigration", "USCIS", "form", "petition",
	"permanent resident", "citizenship", "naturalization", "asylum",
	"refugee", "work permit", "adjustment of status", "consular processing",
	"priority date", "visa bulletin", "labor certification", "affidavit of support",
	"medical examination", "police certificate", "birth certificate", "marriage certificate",
	"divorce decree", "tax returns", "employment authorization", "re-entry permit",
	"conditional residence", "removal of conditions", "waiver", "inadmissibility",
	"deportation", "removal proceedings", "immigration court", "appeal",
}

var chineseTerms = []string{
	"签证", "绿卡", "移民", "永久居民", "公民身份", "归化", "庇护", "难民",
	"工作许可", "身份调整", "领事处理", "优先日期", "签证公告", "劳工认证",
	"经济担保", "体检", "警察证明", "出生证明", "结婚证", "离婚判决",
	"纳税申报", "就业授权", "再入境许可", "条件性居留", "解除条件",
	"豁免", "不可入境", "驱逐出境", "驱逐程序", "移民法庭", "上诉",
}

// Markers of official source material used by the source-quality factor.
var officialTerms = []string{"USCIS", "Form", "Department of State", "immigration law"}

// DomainTerms returns the term list for a language code. Any code other
// than zh falls back to the English list.
func DomainTerms(language string) []string {
	if language == "zh" {
		return chineseTerms
	}
	return englishTerms
}

// HasDomainTerm reports whether any domain term appears in the text,
// case-insensitively.
func HasDomainTerm(text, language string) bool {
	lower := strings.ToLower(text)
	for _, term := range DomainTerms(language) {
		if strings.Contains(lower, strings.ToLower(term)) {
			return true
		}
	}
	return false
}
