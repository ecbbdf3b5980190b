// Package prompts defines the dialog protocol the model must follow and the
// parser for its replies. The protocol is closed and versionless: extending
// it changes the system prompt and the parser together.
package prompts

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/bontafix/equipsearch/internal/llm"
)

// SystemPrompt instructs the model to reply with exactly one of the two
// protocol shapes. The %s slot receives the known-categories section built
// from the catalog index.
const SystemPrompt = `Ты — ассистент подбора промышленной спецтехники. Пользователь описывает нужную технику свободным текстом, твоя задача — превратить описание в структурированный запрос к каталогу.

ПРАВИЛА:
1. Если запроса недостаточно для поиска, задай ОДИН уточняющий вопрос.
2. Если данных достаточно, сформируй итоговый запрос.
3. Используй только названия категорий из списка ниже, если он приведён.
4. Числовые параметры с суффиксом _min/_max означают границы диапазона (включительно), без суффикса — точное совпадение.
5. Не выдумывай характеристики, которых пользователь не называл.

ФОРМАТ ОТВЕТА — строго один JSON-объект одной из двух форм:
{"action":"ask","question":"<твой уточняющий вопрос>"}
или
{"action":"final","query":{"text":"<свободный текст>","category":"<категория>","subcategory":"<подкатегория>","brand":"<бренд>","region":"<регион>","parameters":{"<имя>":<значение>},"limit":<число>}}

В query заполняй только те поля, которые известны. Никакого текста вне JSON.
%s`

// BestEffortNudge is appended as a system turn once the dialog exceeds its
// turn budget: the model must answer with "final" instead of another
// question, using whatever it has.
const BestEffortNudge = `Лимит уточняющих вопросов исчерпан. Сформируй итоговый запрос {"action":"final",...} по уже известным данным, даже если они неполные. Больше не задавай вопросов.`

// SearchResultsContext frames search results as grounding for follow-up
// refinement turns ("дешевле", "другой бренд") so the model does not invent
// new facts.
const SearchResultsContext = `Результаты поиска по последнему запросу: найдено %d. %s
Используй это только как контекст для уточнения следующего запроса пользователя. Не придумывай позиции, которых нет в результатах.`

// FallbackMessage is the generic, safe reply shown to the user when the
// model's answer could not be used.
const FallbackMessage = "Не удалось обработать запрос. Пожалуйста, переформулируйте, какая техника вам нужна."

// BuildSystemPrompt renders the system instruction, optionally grounded
// with the current catalog categories and the parameter names actually
// used within the most populated ones.
func BuildSystemPrompt(categories []string, paramHints map[string][]string) string {
	var b strings.Builder
	if len(categories) > 0 {
		b.WriteString("\nИзвестные категории каталога:\n- ")
		b.WriteString(strings.Join(categories, "\n- "))
	}
	if len(paramHints) > 0 {
		names := make([]string, 0, len(paramHints))
		for name := range paramHints {
			names = append(names, name)
		}
		sort.Strings(names)
		b.WriteString("\nЧасто используемые параметры по категориям:")
		for _, name := range names {
			fmt.Fprintf(&b, "\n- %s: %s", name, strings.Join(paramHints[name], ", "))
		}
	}
	return fmt.Sprintf(SystemPrompt, b.String())
}

// BuildResultsContext renders the grounding turn for AddSearchResults.
func BuildResultsContext(count int, summary string) string {
	return fmt.Sprintf(SearchResultsContext, count, summary)
}

// RawStep is a parsed protocol reply. Query is left untyped: it is
// untrusted until the validator has seen it.
type RawStep struct {
	Action   string
	Question string
	Query    any
}

type rawReply struct {
	Action   string          `json:"action"`
	Question string          `json:"question"`
	Query    json.RawMessage `json:"query"`
}

// ParseStep parses a model reply against the two-shape contract. Text
// around the JSON object is tolerated; the first balanced {...} span must
// itself be valid JSON. Every violation is a *llm.ProtocolError.
func ParseStep(content string) (*RawStep, error) {
	span := extractJSON(content)
	if span == "" {
		return nil, &llm.ProtocolError{Detail: "no JSON object in reply", Raw: content}
	}

	var reply rawReply
	if err := json.Unmarshal([]byte(span), &reply); err != nil {
		return nil, &llm.ProtocolError{Detail: fmt.Sprintf("invalid JSON: %v", err), Raw: content}
	}

	switch reply.Action {
	case "ask":
		question := strings.TrimSpace(reply.Question)
		if question == "" {
			return nil, &llm.ProtocolError{Detail: `"ask" without a question`, Raw: content}
		}
		return &RawStep{Action: "ask", Question: question}, nil
	case "final":
		if len(reply.Query) == 0 || string(reply.Query) == "null" {
			return nil, &llm.ProtocolError{Detail: `"final" without a query`, Raw: content}
		}
		var query any
		if err := json.Unmarshal(reply.Query, &query); err != nil {
			return nil, &llm.ProtocolError{Detail: fmt.Sprintf("unreadable query: %v", err), Raw: content}
		}
		return &RawStep{Action: "final", Query: query}, nil
	default:
		return nil, &llm.ProtocolError{Detail: fmt.Sprintf("unknown action %q", reply.Action), Raw: content}
	}
}

// extractJSON returns the first balanced top-level {...} span, tracking
// string literals and escapes so braces inside values do not break the
// balance count.
func extractJSON(content string) string {
	start := strings.IndexByte(content, '{')
	if start == -1 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(content); i++ {
		c := content[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return content[start : i+1]
				}
			}
		}
	}
	return ""
}
