package internal

import (
	"fmt"
	"log"
	"reflect"
	"regexp"
	"strings"

	"github.com/Knetic/govaluate"
	"github.com/PaesslerAG/jsonpath"
	"gopkg.in/yaml.v3"
)

// Rule routes matching events to one or more topics.
type Rule struct {
	When    string   `yaml:"when"`
	Emit    EmitList `yaml:"emit"`
	Drivers []string `yaml:"drivers"`
}

// EmitList accepts either a single topic or a list of topics.
type EmitList []string

func (e *EmitList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var topic string
		if err := node.Decode(&topic); err != nil {
			return err
		}
		*e = EmitList{topic}
		return nil
	case yaml.SequenceNode:
		var topics []string
		if err := node.Decode(&topics); err != nil {
			return err
		}
		*e = EmitList(topics)
		return nil
	default:
		return fmt.Errorf("emit must be a string or a list of strings")
	}
}

// RuleMatch is a topic selected for an event and the drivers to publish on.
type RuleMatch struct {
	Topic   string
	Drivers []string
}

type compiledRule struct {
	when    string
	emit    []string
	drivers []string
	expr    *govaluate.EvaluableExpression
	// paths maps generated parameter names to the JSONPath they stand for.
	paths map[string]string
	// fields maps generated parameter names to flattened document keys.
	fields map[string]string
}

type RuleEngine struct {
	rules  []compiledRule
	strict bool
	logger *log.Logger
}

var (
	jsonPathToken = regexp.MustCompile(`^\$(?:\.[A-Za-z_][A-Za-z0-9_]*|\.\*|\[(?:\d+|\*|'[^']*'|"[^"]*")\])+`)
	fieldToken    = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(?:\.[A-Za-z_][A-Za-z0-9_]*|\[\d+\])+`)
	identStart    = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*`)
)

var ruleFunctions = map[string]govaluate.ExpressionFunction{
	"contains": func(args ...interface{}) (interface{}, error) {
		if len(args) != 2 {
			return nil, fmt.Errorf("contains expects 2 arguments")
		}
		return containsValue(args[0], args[1]), nil
	},
	"like": func(args ...interface{}) (interface{}, error) {
		if len(args) != 2 {
			return nil, fmt.Errorf("like expects 2 arguments")
		}
		value, ok := args[0].(string)
		pattern, ok2 := args[1].(string)
		if !ok || !ok2 {
			return false, nil
		}
		return likeMatch(value, pattern), nil
	},
}

func NewRuleEngine(cfg RulesConfig) (*RuleEngine, error) {
	rules := make([]compiledRule, 0, len(cfg.Rules))
	for i, rule := range cfg.Rules {
		rewritten, paths, fields := rewriteExpression(rule.When)
		expr, err := govaluate.NewEvaluableExpressionWithFunctions(rewritten, ruleFunctions)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		rules = append(rules, compiledRule{
			when:    rule.When,
			emit:    append([]string(nil), rule.Emit...),
			drivers: append([]string(nil), rule.Drivers...),
			expr:    expr,
			paths:   paths,
			fields:  fields,
		})
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &RuleEngine{rules: rules, strict: cfg.Strict, logger: logger}, nil
}

func (r *RuleEngine) Evaluate(event Event) []RuleMatch {
	if r == nil {
		return nil
	}
	return r.EvaluateWithLogger(event, r.logger)
}

// EvaluateWithLogger returns every topic whose rule matches the event payload.
func (r *RuleEngine) EvaluateWithLogger(event Event, logger *log.Logger) []RuleMatch {
	if r == nil || len(r.rules) == 0 {
		return nil
	}
	if logger == nil {
		logger = r.logger
	}

	object, flat := DecodeAndFlatten(event.Payload)
	matches := make([]RuleMatch, 0, 1)
	for _, rule := range r.rules {
		params, missing := rule.parameters(object, flat)
		if len(missing) > 0 && r.strict {
			logger.Printf("rule skipped when=%q missing=%v", rule.when, missing)
			continue
		}
		result, err := rule.expr.Evaluate(params)
		if err != nil {
			logger.Printf("rule eval failed when=%q: %v", rule.when, err)
			continue
		}
		ok, _ := result.(bool)
		if !ok {
			continue
		}
		for _, topic := range rule.emit {
			matches = append(matches, RuleMatch{Topic: topic, Drivers: rule.drivers})
		}
	}
	return matches
}

// parameters resolves every variable the expression references. Missing
// values are reported and bound to nil so comparisons evaluate to false.
func (c compiledRule) parameters(object interface{}, flat map[string]interface{}) (map[string]interface{}, []string) {
	params := make(map[string]interface{}, len(c.paths)+len(c.fields))
	var missing []string
	for _, name := range c.expr.Vars() {
		if _, done := params[name]; done {
			continue
		}
		if path, ok := c.paths[name]; ok {
			value, err := jsonpath.Get(path, object)
			if err != nil {
				missing = append(missing, path)
				params[name] = nil
				continue
			}
			params[name] = value
			continue
		}
		key := name
		if field, ok := c.fields[name]; ok {
			key = field
		}
		value, ok := flat[key]
		if !ok {
			missing = append(missing, key)
		}
		params[name] = value
	}
	return params, missing
}

// rewriteExpression replaces JSONPath tokens and dotted or indexed field names
// with generated parameter names, leaving string literals untouched.
func rewriteExpression(expr string) (string, map[string]string, map[string]string) {
	paths := map[string]string{}
	fields := map[string]string{}
	var out strings.Builder
	for i := 0; i < len(expr); {
		ch := expr[i]
		switch {
		case ch == '"' || ch == '\'' || ch == '`':
			end := closingQuote(expr, i)
			out.WriteString(expr[i:end])
			i = end
		case ch == '$':
			token := jsonPathToken.FindString(expr[i:])
			if token == "" {
				out.WriteByte(ch)
				i++
				continue
			}
			name := fmt.Sprintf("jp__%d", len(paths))
			paths[name] = token
			out.WriteString(name)
			i += len(token)
		case ch == '_' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z'):
			if i > 0 && isIdentChar(expr[i-1]) {
				out.WriteByte(ch)
				i++
				continue
			}
			if token := fieldToken.FindString(expr[i:]); token != "" {
				name := fmt.Sprintf("fp__%d", len(fields))
				fields[name] = token
				out.WriteString(name)
				i += len(token)
				continue
			}
			ident := identStart.FindString(expr[i:])
			out.WriteString(ident)
			i += len(ident)
		default:
			out.WriteByte(ch)
			i++
		}
	}
	return out.String(), paths, fields
}

func closingQuote(expr string, start int) int {
	quote := expr[start]
	for i := start + 1; i < len(expr); i++ {
		if expr[i] == '\\' {
			i++
			continue
		}
		if expr[i] == quote {
			return i + 1
		}
	}
	return len(expr)
}

func isIdentChar(ch byte) bool {
	return ch == '_' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9')
}

func containsValue(haystack, needle interface{}) bool {
	switch typed := haystack.(type) {
	case string:
		value, ok := needle.(string)
		return ok && strings.Contains(typed, value)
	case []interface{}:
		for _, item := range typed {
			if reflect.DeepEqual(item, needle) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// likeMatch implements SQL LIKE with % and _ wildcards.
func likeMatch(value, pattern string) bool {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	re, err := regexp.Compile(b.String())
	if err != nil {
		return false
	}
	return re.MatchString(value)
}
