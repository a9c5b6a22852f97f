package cadastre

import (
	"strings"
)

// Classification decides which report section an attachment belongs to.
type Classification string

const (
	CLASS_BASIC_PLAN        Classification = "basic_plan"
	CLASS_SIATU             Classification = "siatu"
	CLASS_PROJECT           Classification = "project"
	CLASS_CADASTRAL_MAPPING Classification = "cadastral_mapping"
	CLASS_IMAGERY           Classification = "imagery"
)

type classRule struct {
	class    Classification
	matchers []string
}

// rules are evaluated in order, the first match wins. imagery and cadastral
// mapping screenshots are png files too, so they are checked before the
// project rule which matches on the extension. Matchers starting with a dot
// are extensions and only match the end of the name.
var classRules = []classRule{
	{class: CLASS_BASIC_PLAN, matchers: []string{"planta_basica"}},
	{class: CLASS_IMAGERY, matchers: []string{"google_maps"}},
	{class: CLASS_CADASTRAL_MAPPING, matchers: []string{"sisctm"}},
	{class: CLASS_PROJECT, matchers: []string{
		".png",
		"certidao_baixa",
		"alvara_construcao",
		"alvara",
		"projeto",
	}},
}

// Classify maps a (sanitized) file name to its report section, anything
// unknown lands in the generic SIATU attachments section.
func Classify(filename string) Classification {
	name := strings.ToLower(filename)
	for _, rule := range classRules {
		for _, m := range rule.matchers {
			if matches(name, m) {
				return rule.class
			}
		}
	}
	return CLASS_SIATU
}

func matches(name, matcher string) bool {
	if strings.HasPrefix(matcher, ".") {
		return strings.HasSuffix(name, matcher)
	}
	return strings.Contains(name, matcher)
}

// Attachment is a file a source left in the index directory.
type Attachment struct {
	// Name is the filesystem-safe name, relative to the index directory.
	Name  string
	Path  string
	Class Classification
}

func (a Attachment) IsImage() bool {
	name := strings.ToLower(a.Name)
	return strings.HasSuffix(name, ".png") ||
		strings.HasSuffix(name, ".jpg") ||
		strings.HasSuffix(name, ".jpeg")
}
