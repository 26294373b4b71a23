package ai

import (
	"strings"

	"github.com/zhouzirui/meeting-copilot/backend/internal/model/conversation"
)

// Unit is one element of a generation stream: either a reasoning step or an
// answer fragment, never both.
type Unit struct {
	Reasoning *conversation.ReasoningStep
	Content   string
}

const (
	thinkOpen   = "<think>"
	thinkClose  = "</think>"
	answerLabel = "answer:"
	actionLabel = "action:"
)

type parserMode int

const (
	modeText parserMode = iota
	modeThink
	modeAnswerLead
	modeAnswer
)

// MarkerParser splits raw model text into reasoning steps and answer fragments.
// The model writes its reasoning after a <think> marker and its answer after an
// "Answer:" marker (or a closing </think>). Markers may arrive split across
// chunks and are never passed through as answer text, also when the model
// skips the opening tag or starts thinking again mid-answer. Reasoning
// paragraphs become steps; lines starting with "Action:" become the step's
// action text.
type MarkerParser struct {
	mode    parserMode
	buf     string
	native  string
	step    int
	started bool
}

// NewMarkerParser returns a parser in its initial state.
func NewMarkerParser() *MarkerParser {
	return &MarkerParser{}
}

// Reasoning feeds text the model delivered on its native reasoning channel.
func (p *MarkerParser) Reasoning(chunk string) []Unit {
	if chunk == "" {
		return nil
	}
	p.native += chunk
	var units []Unit
	for {
		idx := strings.Index(p.native, "\n\n")
		if idx == -1 {
			return units
		}
		units = p.appendStep(units, p.native[:idx])
		p.native = p.native[idx+2:]
	}
}

// Feed consumes one chunk of answer text.
func (p *MarkerParser) Feed(chunk string) []Unit {
	units := p.flushNative(nil)
	if chunk == "" {
		return units
	}
	p.buf += chunk

	for {
		switch p.mode {
		case modeText:
			if !p.started {
				// Without <think> the model may still open with "Answer:".
				trimmed := strings.TrimLeft(p.buf, " \t\r\n")
				if trimmed == "" || isPartialLabel(trimmed) {
					return units
				}
				if rest, ok := stripLabel(trimmed); ok {
					p.buf = rest
					p.mode = modeAnswer
					continue
				}
			}
			if idx, marker := firstMarker(p.buf, thinkOpen, thinkClose); idx != -1 {
				lead := p.buf[:idx]
				p.buf = p.buf[idx+len(marker):]
				if marker == thinkOpen {
					if p.started || strings.TrimSpace(lead) != "" {
						units = p.appendContent(units, lead)
					}
					p.mode = modeThink
				} else {
					// A </think> that was never opened: what came before was reasoning.
					units = p.appendSteps(units, lead)
					p.mode = modeAnswerLead
				}
				continue
			}
			held := heldBack(p.buf)
			units = p.appendContent(units, p.buf[:len(p.buf)-held])
			p.buf = p.buf[len(p.buf)-held:]
			return units

		case modeThink:
			idx, marker := earliestMarker(p.buf)
			if idx != -1 {
				units = p.appendSteps(units, p.buf[:idx])
				p.buf = p.buf[idx+len(marker):]
				if marker == thinkClose {
					p.mode = modeAnswerLead
				} else {
					p.mode = modeAnswer
				}
				continue
			}
			// Only complete paragraphs; a marker may still be split across chunks.
			if cut := strings.LastIndex(p.buf, "\n\n"); cut != -1 {
				units = p.appendSteps(units, p.buf[:cut])
				p.buf = p.buf[cut+2:]
			}
			return units

		case modeAnswerLead:
			trimmed := strings.TrimLeft(p.buf, " \t\r\n")
			if trimmed == "" {
				p.buf = ""
				return units
			}
			if isPartialLabel(trimmed) {
				p.buf = trimmed
				return units
			}
			p.buf, _ = stripLabel(trimmed)
			p.mode = modeAnswer
			continue

		default:
			if idx, marker := firstMarker(p.buf, thinkOpen, thinkClose); idx != -1 {
				units = p.appendAnswer(units, p.buf[:idx])
				p.buf = p.buf[idx+len(marker):]
				if marker == thinkOpen {
					p.mode = modeThink
				}
				continue
			}
			held := heldBack(p.buf)
			units = p.appendAnswer(units, p.buf[:len(p.buf)-held])
			p.buf = p.buf[len(p.buf)-held:]
			return units
		}
	}
}

// Flush drains whatever is buffered once the model stream has ended.
func (p *MarkerParser) Flush() []Unit {
	units := p.flushNative(nil)
	rest := p.buf
	p.buf = ""
	switch p.mode {
	case modeThink:
		return p.appendSteps(units, rest)
	case modeAnswerLead:
		rest = strings.TrimLeft(rest, " \t\r\n")
		if stripped, ok := stripLabel(rest); ok {
			rest = stripped
		}
		return p.appendAnswer(units, rest)
	case modeAnswer:
		return p.appendAnswer(units, rest)
	default:
		if !p.started {
			if strings.TrimSpace(rest) == "" {
				return units
			}
			if stripped, ok := stripLabel(strings.TrimLeft(rest, " \t\r\n")); ok {
				return p.appendAnswer(units, stripped)
			}
		}
		return p.appendContent(units, rest)
	}
}

func (p *MarkerParser) flushNative(units []Unit) []Unit {
	if p.native == "" {
		return units
	}
	units = p.appendSteps(units, p.native)
	p.native = ""
	return units
}

func (p *MarkerParser) appendContent(units []Unit, text string) []Unit {
	if text == "" {
		return units
	}
	p.started = true
	return append(units, Unit{Content: text})
}

// appendAnswer drops the whitespace between a marker and the first answer text.
func (p *MarkerParser) appendAnswer(units []Unit, text string) []Unit {
	if !p.started {
		text = strings.TrimLeft(text, " \t\r\n")
	}
	return p.appendContent(units, text)
}

func (p *MarkerParser) appendSteps(units []Unit, text string) []Unit {
	for _, paragraph := range strings.Split(text, "\n\n") {
		units = p.appendStep(units, paragraph)
	}
	return units
}

func (p *MarkerParser) appendStep(units []Unit, paragraph string) []Unit {
	var thoughts, actions []string
	for _, line := range strings.Split(paragraph, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if len(line) >= len(actionLabel) && strings.EqualFold(line[:len(actionLabel)], actionLabel) {
			if action := strings.TrimSpace(line[len(actionLabel):]); action != "" {
				actions = append(actions, action)
			}
			continue
		}
		thoughts = append(thoughts, line)
	}
	if len(thoughts) == 0 && len(actions) == 0 {
		return units
	}

	p.step++
	return append(units, Unit{Reasoning: &conversation.ReasoningStep{
		Number:  p.step,
		Thought: strings.Join(thoughts, "\n"),
		Action:  strings.Join(actions, "; "),
	}})
}

func earliestMarker(text string) (int, string) {
	closeIdx := indexFold(text, thinkClose)
	answerIdx := indexFold(text, answerLabel)
	switch {
	case closeIdx == -1 && answerIdx == -1:
		return -1, ""
	case closeIdx == -1:
		return answerIdx, answerLabel
	case answerIdx == -1 || closeIdx < answerIdx:
		return closeIdx, thinkClose
	default:
		return answerIdx, answerLabel
	}
}

// firstMarker returns the earliest of the given markers in text.
func firstMarker(text string, markers ...string) (int, string) {
	best, found := -1, ""
	for _, marker := range markers {
		if idx := indexFold(text, marker); idx != -1 && (best == -1 || idx < best) {
			best, found = idx, marker
		}
	}
	return best, found
}

// heldBack is how much of text's tail could still grow into a think marker.
func heldBack(text string) int {
	return max(partialSuffix(text, thinkOpen), partialSuffix(text, thinkClose))
}

func stripLabel(text string) (string, bool) {
	if len(text) >= len(answerLabel) && strings.EqualFold(text[:len(answerLabel)], answerLabel) {
		return text[len(answerLabel):], true
	}
	return text, false
}

func isPartialLabel(text string) bool {
	return len(text) < len(answerLabel) && strings.EqualFold(text, answerLabel[:len(text)])
}

// indexFold is a case-insensitive strings.Index for ASCII markers.
func indexFold(text, marker string) int {
	for i := 0; i+len(marker) <= len(text); i++ {
		if strings.EqualFold(text[i:i+len(marker)], marker) {
			return i
		}
	}
	return -1
}

// partialSuffix returns the length of the longest suffix of text that is a
// proper prefix of marker.
func partialSuffix(text, marker string) int {
	for n := len(marker) - 1; n > 0; n-- {
		if len(text) >= n && strings.EqualFold(text[len(text)-n:], marker[:n]) {
			return n
		}
	}
	return 0
}
