package classifier

import (
	"strings"
	"testing"

	"github.com/xaenox/agency-assistant/internal/models"
)

func newRules() *RuleClassifier {
	return NewRuleClassifier(25, 3)
}

func TestRuleClassifierImageRequests(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"imperative", "Gere uma imagem de um cachorro"},
		{"accented noun", "Crie uma ilustração de uma praia"},
		{"photo", "crie uma foto de um bolo"},
		{"another", "gere outra imagem com fundo azul"},
		{"noun lead", "Imagem de um café com leite"},
		{"noun lead with article", "uma foto do produto na mesa"},
		{"polite", "por favor, desenhe um logo para minha loja"},
		{"weak verb with article", "faz uma arte para o dia das mães"},
		{"count", "crie 3 imagens de bolo"},
	}
	rules := newRules()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			intent, decision := rules.Classify(tt.text, nil)
			if decision != DecisionMatched {
				t.Fatalf("decision = %v, want matched", decision)
			}
			if intent.Kind != models.IntentImageGeneration {
				t.Fatalf("Kind = %v, want image_generation", intent.Kind)
			}
			if intent.Prompt != strings.TrimSpace(tt.text) {
				t.Errorf("Prompt = %q, want %q", intent.Prompt, tt.text)
			}
		})
	}
}

func TestRuleClassifierDogScenario(t *testing.T) {
	intent, decision := newRules().Classify("Gere uma imagem de um cachorro", nil)
	if decision != DecisionMatched || intent.Kind != models.IntentImageGeneration {
		t.Fatalf("got %v/%v", intent.Kind, decision)
	}
	if !strings.Contains(intent.Prompt, "cachorro") {
		t.Errorf("Prompt = %q, want it to mention cachorro", intent.Prompt)
	}
}

func TestRuleClassifierStories(t *testing.T) {
	tests := []struct {
		text string
		want models.StoryCategory
	}{
		{"me dá uma ideia de story", models.StoryAny},
		{"Ideias para stories da semana", models.StoryAny},
		{"ideia de story de vendas", models.StorySale},
		{"crie um story de suspense", models.StorySuspense},
		{"story mostrando os bastidores", models.StoryBackstage},
		{"sugestão de story com antes e depois", models.StoryResults},
		{"roteiro de stories com enquete", models.StoryEngagement},
	}
	rules := newRules()
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			intent, decision := rules.Classify(tt.text, nil)
			if decision != DecisionMatched || intent.Kind != models.IntentStory {
				t.Fatalf("got %v/%v, want story", intent.Kind, decision)
			}
			if intent.Category != tt.want {
				t.Errorf("Category = %q, want %q", intent.Category, tt.want)
			}
		})
	}
}

func TestRuleClassifierPlainChat(t *testing.T) {
	tests := []string{
		"queria um cavalo de madeira",
		"Qual o melhor horário para postar?",
		"o que é um story?",
		"quero uma imagem",
		"obrigado!",
		"mostre a foto que te mandei ontem",
		"faz a arte ficar mais clean no texto",
		"faca o logo com menos cores na legenda",
	}
	rules := newRules()
	for _, text := range tests {
		t.Run(text, func(t *testing.T) {
			intent, decision := rules.Classify(text, nil)
			if decision != DecisionNone {
				t.Fatalf("decision = %v, want none", decision)
			}
			if intent.Kind != models.IntentPlainChat {
				t.Errorf("Kind = %v, want plain_chat", intent.Kind)
			}
		})
	}
}

func TestRuleClassifierAmbiguous(t *testing.T) {
	_, decision := newRules().Classify("eu queria muito ter uma foto bonita do meu restaurante", nil)
	if decision != DecisionAmbiguous {
		t.Errorf("decision = %v, want ambiguous", decision)
	}
}

func TestRuleClassifierElliptical(t *testing.T) {
	rules := newRules()

	t.Run("no image context", func(t *testing.T) {
		intent, decision := rules.Classify("gerar", []string{"oi", "tudo bem?"})
		if decision != DecisionNone || intent.Kind != models.IntentPlainChat {
			t.Errorf("got %v/%v, want plain chat", intent.Kind, decision)
		}
	})

	t.Run("image context in window", func(t *testing.T) {
		recent := []string{"oi", "crie uma foto de um bolo", "com morangos em cima"}
		intent, decision := rules.Classify("gerar", recent)
		if decision != DecisionMatched || intent.Kind != models.IntentImageGeneration {
			t.Fatalf("got %v/%v, want image request", intent.Kind, decision)
		}
		if intent.Prompt != "crie uma foto de um bolo" {
			t.Errorf("Prompt = %q", intent.Prompt)
		}
	})

	t.Run("image context outside window", func(t *testing.T) {
		recent := []string{"crie uma foto de um bolo", "a", "b", "c"}
		intent, _ := rules.Classify("Gerar!", recent)
		if intent.Kind != models.IntentPlainChat {
			t.Errorf("Kind = %v, want plain_chat", intent.Kind)
		}
	})
}

func TestRuleClassifierIsDeterministic(t *testing.T) {
	rules := newRules()
	first, d1 := rules.Classify("Gere uma imagem de um cachorro", nil)
	for i := 0; i < 10; i++ {
		got, d := rules.Classify("Gere uma imagem de um cachorro", nil)
		if got != first || d != d1 {
			t.Fatalf("run %d: got %+v/%v, want %+v/%v", i, got, d, first, d1)
		}
	}
}

func TestNormalize(t *testing.T) {
	if got := normalize("  Ilustração   ÁGIL "); got != "ilustracao agil" {
		t.Errorf("normalize = %q", got)
	}
	if got := bare("gerar!!!"); got != "gerar" {
		t.Errorf("bare = %q", got)
	}
}
