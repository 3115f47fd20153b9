// internal/frames/document.go
package frames

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/runtime"

	"github.com/xkilldash9x/actuator/internal/devtools"
	"github.com/xkilldash9x/actuator/internal/devtools/js"
)

// Document returns the document object of frame. Evaluating `document` in a
// devtools session yields the document of the session's root frame, so
// frames that share a process with their parent are reached by walking iframe
// owners down from that root.
func Document(ctx context.Context, client devtools.Client, tree Tree, frame GlobalFrameID) (runtime.RemoteObjectID, error) {
	session := frame.SessionFrameID()
	root, exc, err := client.Evaluate(ctx, runtime.Evaluate(js.Document), session)
	if err := devtools.CheckResult(exc, err); err != nil {
		return "", err
	}
	if frame.Frame == session || frame == tree.Main() {
		return root.ObjectID, nil
	}

	doc, err := findChildDocument(ctx, client, session, root.ObjectID, frame.Frame)
	if err != nil {
		return "", err
	}
	if doc == "" {
		return "", fmt.Errorf("%w: %s not reachable in its process", ErrFrameDetached, frame)
	}
	return doc, nil
}

func findChildDocument(ctx context.Context, client devtools.Client, session cdp.FrameID, doc runtime.RemoteObjectID, target cdp.FrameID) (runtime.RemoteObjectID, error) {
	array, err := devtools.Call(ctx, client, session, doc, js.QuerySelectorAll, false, "iframe, frame")
	if err != nil {
		return "", err
	}
	owners, err := devtools.ArrayElements(ctx, client, session, array.ObjectID)
	if err != nil {
		return "", err
	}
	for _, owner := range owners {
		node, err := client.DescribeNode(ctx, dom.DescribeNode().WithObjectID(owner), session)
		if err != nil {
			return "", devtools.CheckResult(nil, err)
		}
		// Out-of-process children have no content document in this session.
		if node.ContentDocument == nil {
			continue
		}
		child, err := client.ResolveNode(ctx, dom.ResolveNode().WithBackendNodeID(node.ContentDocument.BackendNodeID), session)
		if err != nil {
			return "", devtools.CheckResult(nil, err)
		}
		if node.FrameID == target {
			return child.ObjectID, nil
		}
		if found, err := findChildDocument(ctx, client, session, child.ObjectID, target); err != nil || found != "" {
			return found, err
		}
	}
	return "", nil
}
