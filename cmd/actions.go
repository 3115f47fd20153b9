// File: cmd/actions.go
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/actuator/api/schemas"
	"github.com/xkilldash9x/actuator/internal/actiondelegate"
	"github.com/xkilldash9x/actuator/internal/element"
	"github.com/xkilldash9x/actuator/internal/observability"
	"github.com/xkilldash9x/actuator/internal/requiredfields"
	"github.com/xkilldash9x/actuator/internal/webcontroller"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// targetFlags are the flags shared by every command that acts on one element.
type targetFlags struct {
	url        string
	css        []string
	text       string
	value      string
	nth        int
	visible    bool
	role       int32
	objective  int32
	anyObj     bool
	trackingID string
	raw        string
}

func (f *targetFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.url, "url", "", "page to open before acting")
	fs.StringArrayVar(&f.css, "css", nil, "CSS selector; repeat to descend into iframes")
	fs.StringVar(&f.text, "text", "", "keep elements whose inner text matches this regular expression")
	fs.StringVar(&f.value, "value-re", "", "keep elements whose value matches this regular expression")
	fs.IntVar(&f.nth, "nth", -1, "keep only the nth match")
	fs.BoolVar(&f.visible, "visible", false, "keep only elements with a non-empty bounding box")
	fs.Int32Var(&f.role, "role", 0, "semantic role of the element; enables semantic resolution")
	fs.Int32Var(&f.objective, "objective", 0, "semantic objective of the element")
	fs.BoolVar(&f.anyObj, "any-objective", false, "match the semantic role regardless of objective")
	fs.StringVar(&f.trackingID, "tracking-id", "", "identifier recorded with the finder diagnostics")
	fs.StringVar(&f.raw, "selector", "", "full selector as JSON; overrides the other selector flags")
}

// selector assembles the selector described by the flags.
func (f *targetFlags) selector() (schemas.Selector, error) {
	var sel schemas.Selector
	if f.raw != "" {
		if err := json.Unmarshal([]byte(f.raw), &sel); err != nil {
			return sel, schemas.Statusf(schemas.InvalidSelector, "malformed selector JSON: %v", err)
		}
	} else {
		if f.role != 0 {
			sel = schemas.NewSemanticSelector(schemas.SemanticFilter{
				Role:            f.role,
				Objective:       f.objective,
				IgnoreObjective: f.anyObj,
			})
		}
		sel = sel.Then(schemas.NewSelector(f.css...).Filters...)
		if f.text != "" {
			sel = sel.WithInnerText(f.text)
		}
		if f.value != "" {
			sel = sel.WithValue(f.value)
		}
		if f.visible {
			sel = sel.MustBeVisible()
		}
		if f.nth >= 0 {
			sel = sel.Then(schemas.Filter{Kind: schemas.FilterNthMatch, Index: f.nth})
		}
	}
	if f.trackingID != "" {
		sel.TrackingID = f.trackingID
	}
	if sel.Empty() {
		return sel, schemas.Statusf(schemas.InvalidSelector, "no selector given; use --css, --role or --selector")
	}
	return sel, sel.Validate()
}

// withSession opens a session on the target page and runs fn.
func withSession(cmd *cobra.Command, url string, fn func(ctx context.Context, wc *webcontroller.WebController) error) error {
	ctx := cmd.Context()
	s, err := openSession(ctx, configFrom(cmd), url)
	if err != nil {
		return err
	}
	defer s.close()
	return fn(ctx, s.wc)
}

func writeJSON(w io.Writer, v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

// elementReport is the printable summary of a resolved element.
type elementReport struct {
	Frame         string `json:"frame"`
	BackendNodeID int64  `json:"backend_node_id"`
	Tag           string `json:"tag,omitempty"`
	OuterHTML     string `json:"outer_html,omitempty"`
}

func describeElements(ctx context.Context, wc *webcontroller.WebController, els []element.Result, withHTML bool) ([]elementReport, error) {
	out := make([]elementReport, 0, len(els))
	for _, el := range els {
		tag, err := wc.GetElementTag(ctx, el)
		if err != nil {
			return nil, err
		}
		r := elementReport{Frame: el.FrameHost.String(), BackendNodeID: int64(el.BackendNodeID), Tag: tag}
		if withHTML {
			if r.OuterHTML, err = wc.GetOuterHTML(ctx, el); err != nil {
				return nil, err
			}
		}
		out = append(out, r)
	}
	return out, nil
}

func newResolveCommand() *cobra.Command {
	var (
		target   targetFlags
		all      bool
		withHTML bool
	)
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve a selector and print the matching elements",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sel, err := target.selector()
			if err != nil {
				return err
			}
			return withSession(cmd, target.url, func(ctx context.Context, wc *webcontroller.WebController) error {
				var els []element.Result
				if all {
					if els, err = wc.FindAllElements(ctx, sel); err != nil {
						return err
					}
				} else {
					el, err := wc.FindElement(ctx, sel, true)
					if err != nil {
						return err
					}
					els = []element.Result{el}
				}
				report, err := describeElements(ctx, wc, els, withHTML)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), report)
			})
		},
	}
	target.register(cmd)
	cmd.Flags().BoolVar(&all, "all", false, "print every match instead of requiring exactly one")
	cmd.Flags().BoolVar(&withHTML, "html", false, "include the outer HTML of each match")
	return cmd
}

func newClickCommand() *cobra.Command {
	var (
		target    targetFlags
		clickType string
	)
	cmd := &cobra.Command{
		Use:   "click",
		Short: "Click or tap an element",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sel, err := target.selector()
			if err != nil {
				return err
			}
			if clickType == "" {
				clickType = configFrom(cmd).Engine.ClickType
			}
			return withSession(cmd, target.url, func(ctx context.Context, wc *webcontroller.WebController) error {
				return actiondelegate.FindElementAndPerform(ctx, wc, sel,
					actiondelegate.WaitUntilDocumentInteractive(wc),
					actiondelegate.WaitUntilStable(wc),
					actiondelegate.Named("click", actiondelegate.ClickOrTapElement(wc, schemas.ClickType(clickType))),
				)
			})
		},
	}
	target.register(cmd)
	cmd.Flags().StringVar(&clickType, "type", "", "click, tap or javascript (default from engine.click_type)")
	return cmd
}

func newFillCommand() *cobra.Command {
	var (
		target   targetFlags
		value    string
		strategy string
		delay    time.Duration
		verify   bool
	)
	cmd := &cobra.Command{
		Use:   "fill",
		Short: "Write a value into a form field",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sel, err := target.selector()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("delay") {
				delay = configFrom(cmd).Engine.KeyPressDelay
			}
			return withSession(cmd, target.url, func(ctx context.Context, wc *webcontroller.WebController) error {
				steps := []actiondelegate.Action{
					actiondelegate.WaitUntilDocumentInteractive(wc),
					actiondelegate.Named("fill", actiondelegate.PerformSetFieldValue(wc, value, schemas.KeyboardValueFillStrategy(strategy), delay)),
				}
				if verify {
					steps = append(steps, actiondelegate.Named("verify", actiondelegate.ExpectValue(wc, value)))
				}
				return actiondelegate.FindElementAndPerform(ctx, wc, sel, steps...)
			})
		},
	}
	target.register(cmd)
	cmd.Flags().StringVar(&value, "set", "", "value to write")
	cmd.Flags().StringVar(&strategy, "strategy", string(schemas.FillSimulateKeyPresses), "set_value, simulate_key_presses or simulate_key_presses_select_value")
	cmd.Flags().DurationVar(&delay, "delay", 0, "delay between key presses (default from engine.key_press_delay)")
	cmd.Flags().BoolVar(&verify, "verify", true, "read the value back after writing it")
	return cmd
}

func newSelectCommand() *cobra.Command {
	var (
		target   targetFlags
		options  []string
		strategy string
	)
	cmd := &cobra.Command{
		Use:   "select",
		Short: "Select an option of a <select> element",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sel, err := target.selector()
			if err != nil {
				return err
			}
			if len(options) == 0 {
				return schemas.Statusf(schemas.InvalidAction, "no option given; use --option")
			}
			return withSession(cmd, target.url, func(ctx context.Context, wc *webcontroller.WebController) error {
				return actiondelegate.FindElementAndPerform(ctx, wc, sel,
					actiondelegate.WaitUntilDocumentInteractive(wc),
					actiondelegate.PerformSelectOption(wc, options, schemas.DropdownSelectStrategy(strategy)),
				)
			})
		},
	}
	target.register(cmd)
	cmd.Flags().StringArrayVar(&options, "option", nil, "option to select; repeat to give alternatives in order of preference")
	cmd.Flags().StringVar(&strategy, "strategy", string(schemas.SelectValueMatch), "value_match, label_match or label_starts_with")
	return cmd
}

// fieldsFile is the input of the fields command.
type fieldsFile struct {
	Fields []schemas.RequiredField `json:"fields"`
	Values map[string]string       `json:"values"`
}

func readFieldsFile(path string) (*fieldsFile, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open fields file: %w", err)
		}
		defer f.Close()
		r = f
	}
	var ff fieldsFile
	if err := json.NewDecoder(r).Decode(&ff); err != nil {
		return nil, fmt.Errorf("failed to decode fields file: %w", err)
	}
	for i, f := range ff.Fields {
		if err := f.Selector.Validate(); err != nil {
			return nil, fmt.Errorf("field %d: %w", i, err)
		}
	}
	return &ff, nil
}

func newFieldsCommand() *cobra.Command {
	var (
		url  string
		path string
	)
	cmd := &cobra.Command{
		Use:   "fields",
		Short: "Check required form fields and fill the empty ones from a value map",
		Long: `Reads a JSON document {"fields": [...], "values": {...}} and makes sure every
listed field is non-empty, filling empty ones from their value expression.
Use --file - to read from stdin.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ff, err := readFieldsFile(path)
			if err != nil {
				return err
			}
			return withSession(cmd, url, func(ctx context.Context, wc *webcontroller.WebController) error {
				h := requiredfields.NewHandler(wc, observability.GetLogger())
				// No bulk fill ran, so every field is treated as unverified.
				upstream := schemas.Statusf(schemas.AutofillIncomplete, "no bulk fill")
				err := h.CheckAndFallbackRequiredFields(ctx, upstream, ff.Fields, ff.Values)
				if info := schemas.StatusOf(err).Details.Autofill; info != nil {
					if werr := writeJSON(cmd.OutOrStdout(), info.FieldErrors); werr != nil {
						observability.GetLogger().Warn("Failed to print field errors", zap.Error(werr))
					}
				}
				return err
			})
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "page to open before acting")
	cmd.Flags().StringVar(&path, "file", "", "JSON file with fields and values")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newHistoryCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history TRACKING_ID",
		Short: "Print stored finder diagnostics for a tracking id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := configFrom(cmd)
			if strings.TrimSpace(cfg.Database.URL) == "" {
				return fmt.Errorf("database.url is not configured")
			}
			st, closePool, err := openStore(cmd.Context(), cfg.Database)
			if err != nil {
				return err
			}
			defer closePool()

			records, err := st.RecordsByTrackingID(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), records)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of records")
	return cmd
}
