// internal/semantic/classifier.go
package semantic

import (
	"context"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/actuator/internal/config"
	"github.com/xkilldash9x/actuator/internal/devtools"
	"github.com/xkilldash9x/actuator/internal/devtools/js"
	"github.com/xkilldash9x/actuator/internal/frames"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const defaultMaxCandidates = 200

const systemPrompt = `You label the form controls of a web page.
Each control is given as "[index] {json description}".
Reply with JSON of the form {"matches":[index, ...]} listing the controls that
play the requested role (and serve the requested objective, when one is given).
Reply {"matches":[]} when no control matches. Never invent indices.`

// Override short-circuits the model: a control whose autocomplete attribute
// equals Autocomplete is reported for Role and Objective.
type Override struct {
	Role         int32
	Objective    int32
	Autocomplete string
}

// OverridesFromConfig converts configured overrides.
func OverridesFromConfig(cfg []config.SemanticOverride) []Override {
	out := make([]Override, 0, len(cfg))
	for _, o := range cfg {
		out = append(out, Override{Role: o.Role, Objective: o.Objective, Autocomplete: o.Autocomplete})
	}
	return out
}

func (o Override) matches(req Request, c control) bool {
	if o.Role != req.Role || (!req.IgnoreObjective && o.Objective != req.Objective) {
		return false
	}
	return o.Autocomplete != "" && strings.EqualFold(o.Autocomplete, c.Autocomplete)
}

// control mirrors the object returned by js.DescribeControl.
type control struct {
	Tag          string `json:"tag"`
	Type         string `json:"type,omitempty"`
	ID           string `json:"id,omitempty"`
	Name         string `json:"name,omitempty"`
	Placeholder  string `json:"placeholder,omitempty"`
	AriaLabel    string `json:"aria_label,omitempty"`
	Autocomplete string `json:"autocomplete,omitempty"`
	Label        string `json:"label,omitempty"`
	Text         string `json:"text,omitempty"`
}

type candidate struct {
	backendNodeID cdp.BackendNodeID
	control       control
}

type modelReply struct {
	Matches []int `json:"matches"`
}

// LLMClassifier classifies the form controls of a frame with a language model.
type LLMClassifier struct {
	client        devtools.Client
	tree          frames.Tree
	model         Model
	maxCandidates int
	overrides     []Override
	logger        *zap.Logger
}

var _ Classifier = (*LLMClassifier)(nil)

func NewLLMClassifier(client devtools.Client, tree frames.Tree, model Model, maxCandidates int, logger *zap.Logger, overrides ...Override) *LLMClassifier {
	if maxCandidates <= 0 {
		maxCandidates = defaultMaxCandidates
	}
	return &LLMClassifier{
		client:        client,
		tree:          tree,
		model:         model,
		maxCandidates: maxCandidates,
		overrides:     overrides,
		logger:        logger.Named("semantic"),
	}
}

func (c *LLMClassifier) GetSemanticNodes(ctx context.Context, frame frames.GlobalFrameID, req Request) ([]Node, error) {
	candidates, err := c.collect(ctx, frame)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	var overridden []Node
	for _, cand := range candidates {
		for _, o := range c.overrides {
			if o.matches(req, cand.control) {
				overridden = append(overridden, Node{BackendNodeID: cand.backendNodeID, UsedOverride: true})
				break
			}
		}
	}
	if len(overridden) > 0 {
		return overridden, nil
	}

	raw, err := c.model.Generate(ctx, systemPrompt, buildPrompt(req, candidates))
	if err != nil {
		return nil, err
	}
	indices, err := parseReply(raw)
	if err != nil {
		return nil, err
	}

	var nodes []Node
	seen := make(map[int]bool)
	for _, i := range indices {
		if i < 0 || i >= len(candidates) || seen[i] {
			continue
		}
		seen[i] = true
		nodes = append(nodes, Node{BackendNodeID: candidates[i].backendNodeID})
	}
	c.logger.Debug("Frame classified",
		zap.Stringer("frame", frame),
		zap.Int("candidates", len(candidates)),
		zap.Int("matches", len(nodes)))
	return nodes, nil
}

func buildPrompt(req Request, candidates []candidate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Role: %d\n", req.Role)
	if !req.IgnoreObjective {
		fmt.Fprintf(&b, "Objective: %d\n", req.Objective)
	}
	b.WriteString("Controls:\n")
	for i, cand := range candidates {
		desc, _ := json.Marshal(cand.control)
		fmt.Fprintf(&b, "[%d] %s\n", i, desc)
	}
	return b.String()
}

func parseReply(raw string) ([]int, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var reply modelReply
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &reply); err != nil {
		return nil, fmt.Errorf("malformed classifier reply: %w", err)
	}
	return reply.Matches, nil
}

// collect lists and describes the form controls of the frame's document.
func (c *LLMClassifier) collect(ctx context.Context, frame frames.GlobalFrameID) ([]candidate, error) {
	session := frame.SessionFrameID()
	doc, err := frames.Document(ctx, c.client, c.tree, frame)
	if err != nil {
		return nil, err
	}

	array, err := devtools.Call(ctx, c.client, session, doc, js.FormControls, false)
	if err != nil {
		return nil, err
	}
	ids, err := devtools.ArrayElements(ctx, c.client, session, array.ObjectID)
	if err != nil {
		return nil, err
	}
	if len(ids) > c.maxCandidates {
		ids = ids[:c.maxCandidates]
	}

	candidates := make([]candidate, 0, len(ids))
	for _, id := range ids {
		var ctl control
		if err := devtools.CallValue(ctx, c.client, session, id, js.DescribeControl, &ctl); err != nil {
			return nil, err
		}
		node, err := c.client.DescribeNode(ctx, dom.DescribeNode().WithObjectID(id), session)
		if err != nil {
			return nil, devtools.CheckResult(nil, err)
		}
		candidates = append(candidates, candidate{backendNodeID: node.BackendNodeID, control: ctl})
	}
	return candidates, nil
}
