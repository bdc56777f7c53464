package prompt

import (
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"github.com/xaenox/agency-assistant/internal/models"
)

var storyBriefs = map[models.StoryCategory]string{
	models.StoryAny:        "stories variados que gerem conexão com o público",
	models.StorySale:       "stories focados em venda, com oferta clara e chamada para ação",
	models.StorySuspense:   "stories de suspense que criem curiosidade para o próximo conteúdo",
	models.StoryBackstage:  "stories de bastidores mostrando a rotina e as pessoas por trás do negócio",
	models.StoryResults:    "stories de resultados, com depoimentos, antes e depois e prova social",
	models.StoryEngagement: "stories de engajamento com enquetes, caixinhas de perguntas e quizzes",
}

// StoryCategoryLabel is the button label of a category.
func StoryCategoryLabel(c models.StoryCategory) string {
	switch c {
	case models.StorySale:
		return "💰 Venda"
	case models.StorySuspense:
		return "🕵️ Suspense"
	case models.StoryBackstage:
		return "🎬 Bastidores"
	case models.StoryResults:
		return "📈 Resultados"
	case models.StoryEngagement:
		return "💬 Engajamento"
	default:
		return "✨ Livre"
	}
}

// StoryMessages builds the request for a sequence of story ideas.
func (b *Builder) StoryMessages(client *models.Client, category models.StoryCategory, request string) []openai.ChatCompletionMessage {
	brief, ok := storyBriefs[category]
	if !ok {
		brief = storyBriefs[models.StoryAny]
	}

	var user strings.Builder
	fmt.Fprintf(&user, "Crie uma sequência de 3 a 5 ideias de %s.\n", brief)
	user.WriteString("Para cada story, traga: objetivo, texto na tela, sugestão visual e chamada para ação.")
	if request = strings.TrimSpace(request); request != "" {
		fmt.Fprintf(&user, "\n\nPedido do cliente: %s", request)
	}

	return []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: b.SystemPrompt(client)},
		{Role: openai.ChatMessageRoleUser, Content: user.String()},
	}
}

var imageActionInstructions = map[models.ImageActionKind]string{
	models.ImageAnalyze: "Analise esta imagem do ponto de vista de marketing: composição, cores, " +
		"mensagem transmitida, pontos fortes e o que pode melhorar para redes sociais.",
	models.ImageCaption: "Escreva 3 opções de legenda para esta imagem no Instagram, " +
		"cada uma com chamada para ação e até 5 hashtags relevantes.",
	models.ImagePost: "Sugira um post completo usando esta imagem: formato ideal (feed, carrossel, reels ou story), " +
		"legenda, melhor horário para publicar e ideia de complemento em stories.",
}

// ImageActionLabel is the button label of an image action.
func ImageActionLabel(k models.ImageActionKind) string {
	switch k {
	case models.ImageAnalyze:
		return "🔍 Analisar"
	case models.ImageCaption:
		return "✍️ Legenda"
	case models.ImagePost:
		return "📱 Sugerir post"
	default:
		return string(k)
	}
}

// ImageActionMessages builds a vision request for an attached image.
func (b *Builder) ImageActionMessages(client *models.Client, kind models.ImageActionKind, image *models.Attachment, note string) []openai.ChatCompletionMessage {
	text := imageActionInstructions[kind]
	if note = strings.TrimSpace(note); note != "" {
		text += "\n\nObservação do cliente: " + note
	}

	return []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: b.SystemPrompt(client)},
		{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: text},
				{
					Type:     openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{URL: ImageURL(image), Detail: openai.ImageURLDetailAuto},
				},
			},
		},
	}
}

// ImageURL returns a URL the model can fetch: the hosted URL, or a data URI
// built from the downloaded bytes.
func ImageURL(image *models.Attachment) string {
	if image.Base64 == "" {
		return image.URL
	}
	mimeType := image.MimeType
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	return "data:" + mimeType + ";base64," + image.Base64
}

// TitleMessages asks for a short title summarizing the first exchange.
func TitleMessages(userText, assistantText string) []openai.ChatCompletionMessage {
	return []openai.ChatCompletionMessage{
		{
			Role: openai.ChatMessageRoleSystem,
			Content: "Crie um título curto (no máximo 6 palavras) em português para esta conversa. " +
				"Responda só com o título, sem aspas nem pontuação final.",
		},
		{
			Role:    openai.ChatMessageRoleUser,
			Content: "Cliente: " + truncateRunes(userText, 500) + "\nAssistente: " + truncateRunes(assistantText, 500),
		},
	}
}

// CleanTitle trims quotes and trailing punctuation a model tends to add.
func CleanTitle(title string) string {
	title = strings.TrimSpace(strings.SplitN(title, "\n", 2)[0])
	const decoration = "\"'“”*#"
	title = strings.Trim(title, decoration)
	title = strings.TrimRight(title, ".!")
	title = strings.Trim(title, decoration)
	return truncateRunes(strings.TrimSpace(title), 80)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
