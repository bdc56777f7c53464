package classifier

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/xaenox/agency-assistant/internal/models"
)

var ErrActionRequired = errors.New("image attached without a chosen action")

// Input is one pending user turn.
type Input struct {
	Text string
	// RecentUser holds earlier user utterances of the session, oldest first.
	RecentUser []string
	Image      *models.Attachment
	Action     models.ImageActionKind
}

type Classifier interface {
	Classify(ctx context.Context, in Input) (models.Intent, error)
}

// Decision is the outcome of the rule pass.
type Decision int

const (
	// DecisionNone means plain chat without asking the model.
	DecisionNone Decision = iota
	DecisionMatched
	// DecisionAmbiguous means the model fallback should decide.
	DecisionAmbiguous
)

var (
	imageVerbs = []string{
		"gere", "gera", "gerar", "crie", "cria", "criar",
		"desenhe", "desenha", "desenhar", "produza", "produzir", "monte", "montar",
		"elabore", "elaborar", "ilustre",
	}
	// weakImageVerbs only count as image commands before an indefinite
	// article or a count: "faz uma arte" but not "faz a arte ficar clean".
	weakImageVerbs = []string{"faca", "faz", "fazer"}
	imageNouns = []string{
		"imagem", "imagens", "foto", "fotos", "fotografia", "ilustracao", "ilustracoes",
		"desenho", "arte", "figura", "logo", "logotipo", "banner", "avatar", "wallpaper",
	}
	desireVerbs = []string{
		"quero", "queria", "gostaria", "preciso", "precisava", "desejo", "adoraria",
	}
	storyVerbs = []string{
		"ideia", "ideias", "sugestao", "sugestoes", "sugira", "roteiro", "roteiros",
		"crie", "cria", "criar", "gere", "gera", "gerar", "faca", "fazer", "monte", "me de",
	}

	// elliptical holds continuations that carry no object of their own.
	elliptical = map[string]struct{}{
		"gerar": {}, "gere": {}, "gera": {}, "gera ai": {}, "criar": {}, "crie": {}, "cria": {},
		"fazer": {}, "faca": {}, "faz": {}, "desenhe": {}, "pode gerar": {}, "pode criar": {},
		"pode fazer": {}, "manda": {}, "mande": {}, "manda ver": {}, "sim gere": {},
		"sim pode gerar": {}, "de novo": {}, "outra": {}, "mais uma": {}, "novamente": {},
		"tenta de novo": {}, "gere outra": {}, "crie outra": {}, "gere novamente": {},
	}

	storyCategoryKeywords = []struct {
		category models.StoryCategory
		words    []string
	}{
		{models.StorySale, []string{"venda", "vendas", "vender", "oferta", "promocao", "desconto", "lancamento"}},
		{models.StorySuspense, []string{"suspense", "misterio", "curiosidade", "segredo", "revelacao"}},
		{models.StoryBackstage, []string{"bastidores", "behind the scenes", "por tras das cameras", "rotina"}},
		{models.StoryResults, []string{"resultado", "resultados", "depoimento", "depoimentos", "antes e depois", "prova social"}},
		{models.StoryEngagement, []string{"engajamento", "interacao", "enquete", "caixinha de perguntas", "quiz"}},
	}
)

var (
	imperativeRe = regexp.MustCompile(
		`\b(?:` + alt(imageVerbs) + `)\s+(?:me\s+)?` +
			`(?:(?:uma?|umas|uns|outra|outro|mais uma|a|o|as|os|essa|esta|\d+)\s+)?(?:(?:nova|novo|novas|novos)\s+)?` +
			`(?:` + alt(imageNouns) + `)\b` +
			`|\b(?:` + alt(weakImageVerbs) + `)\s+(?:me\s+)?` +
			`(?:uma?|umas|uns|outra|outro|mais uma|\d+)\s+(?:(?:nova|novo|novas|novos)\s+)?` +
			`(?:` + alt(imageNouns) + `)\b`)
	nounLeadRe   = regexp.MustCompile(`^(?:(?:uma?|nova)\s+)*(?:` + alt(imageNouns) + `)\s+(?:de|do|da|dos|das|com)\s+\S`)
	imageNounRe  = regexp.MustCompile(`\b(?:` + alt(imageNouns) + `)\b`)
	desireVerbRe = regexp.MustCompile(`\b(?:` + alt(desireVerbs) + `)\b`)
	storyWordRe  = regexp.MustCompile(`\bstor(?:y|ies|ys)\b`)
	storyAskRe   = regexp.MustCompile(`\b(?:` + alt(storyVerbs) + `)\b(?:\s+\S+){0,3}?\s+stor(?:y|ies|ys)\b`)
	categoryRes  = compileCategories()
)

func alt(words []string) string {
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = regexp.QuoteMeta(w)
	}
	return strings.Join(quoted, "|")
}

func compileCategories() []*regexp.Regexp {
	res := make([]*regexp.Regexp, len(storyCategoryKeywords))
	for i, c := range storyCategoryKeywords {
		res[i] = regexp.MustCompile(`\b(?:` + alt(c.words) + `)\b`)
	}
	return res
}

// RuleClassifier is the deterministic fast path. It performs no I/O.
type RuleClassifier struct {
	ambiguousMinLength int
	historyWindow      int
}

func NewRuleClassifier(ambiguousMinLength, historyWindow int) *RuleClassifier {
	return &RuleClassifier{
		ambiguousMinLength: ambiguousMinLength,
		historyWindow:      historyWindow,
	}
}

// Classify runs the keyword and pattern rules over text. recent holds
// earlier user utterances, oldest first.
func (c *RuleClassifier) Classify(text string, recent []string) (models.Intent, Decision) {
	prompt := strings.TrimSpace(text)
	normalized := normalize(text)

	if imperativeRe.MatchString(normalized) {
		return models.ImageGenerationRequest(prompt), DecisionMatched
	}

	if category, ok := c.storyCategory(normalized); ok {
		return models.StoryRequest(category), DecisionMatched
	}

	if nounLeadRe.MatchString(normalized) {
		return models.ImageGenerationRequest(prompt), DecisionMatched
	}

	if _, ok := elliptical[bare(normalized)]; ok {
		if earlier, found := c.recentImageRequest(recent); found {
			return models.ImageGenerationRequest(earlier), DecisionMatched
		}
		return models.PlainChat(), DecisionNone
	}

	if imageNounRe.MatchString(normalized) && desireVerbRe.MatchString(normalized) {
		if utf8.RuneCountInString(prompt) < c.ambiguousMinLength {
			return models.PlainChat(), DecisionNone
		}
		return models.PlainChat(), DecisionAmbiguous
	}

	return models.PlainChat(), DecisionNone
}

// storyCategory reports whether normalized asks for a story idea and which
// category it names. A category keyword next to any story mention is enough.
func (c *RuleClassifier) storyCategory(normalized string) (models.StoryCategory, bool) {
	if !storyWordRe.MatchString(normalized) {
		return models.StoryAny, false
	}
	for i, re := range categoryRes {
		if re.MatchString(normalized) {
			return storyCategoryKeywords[i].category, true
		}
	}
	if storyAskRe.MatchString(normalized) {
		return models.StoryAny, true
	}
	return models.StoryAny, false
}

func (c *RuleClassifier) recentImageRequest(recent []string) (string, bool) {
	start := len(recent) - c.historyWindow
	if start < 0 {
		start = 0
	}
	for i := len(recent) - 1; i >= start; i-- {
		n := normalize(recent[i])
		if imperativeRe.MatchString(n) || imageNounRe.MatchString(n) {
			return strings.TrimSpace(recent[i]), true
		}
	}
	return "", false
}
