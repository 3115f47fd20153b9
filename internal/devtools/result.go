// internal/devtools/result.go
package devtools

import (
	"context"
	"fmt"
	"path/filepath"
	goruntime "runtime"
	"sort"
	"strconv"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/runtime"
	"github.com/go-json-experiment/json/jsontext"
	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/actuator/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// CheckResult folds the two failure channels of a script call into one
// status. A protocol error wins; otherwise exception details thrown by the
// script are reported. Both become UnexpectedError with the caller's
// location recorded.
func CheckResult(exc *runtime.ExceptionDetails, err error) error {
	return checkResult(2, exc, err)
}

func checkResult(skip int, exc *runtime.ExceptionDetails, err error) error {
	if err == nil && exc == nil {
		return nil
	}
	info := schemas.UnexpectedErrorInfo{}
	if _, file, line, ok := goruntime.Caller(skip); ok {
		info.SourceFile = filepath.Base(file)
		info.SourceLine = line
	}

	if err != nil {
		// Errors that already carry a status, or a deadline, pass through.
		if s := schemas.StatusOf(err); s.Code != schemas.UnexpectedError {
			return s
		}
		info.ProtocolError = err.Error()
		return schemas.WrapStatus(schemas.UnexpectedError, err).WithUnexpected(info)
	}

	info.JSExceptionMessage = exc.Text
	info.JSExceptionLine = exc.LineNumber
	info.JSExceptionColumn = exc.ColumnNumber
	if exc.Exception != nil {
		info.JSExceptionClass = exc.Exception.ClassName
		if exc.Exception.Description != "" {
			info.JSExceptionMessage = exc.Exception.Description
		}
	}
	return schemas.Statusf(schemas.UnexpectedError, "script exception: %s", info.JSExceptionMessage).WithUnexpected(info)
}

// Arg encodes a Go value as a call argument.
func Arg(v interface{}) (*runtime.CallArgument, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode call argument: %w", err)
	}
	return &runtime.CallArgument{Value: jsontext.Value(b)}, nil
}

// ObjectArg passes a remote object by reference.
func ObjectArg(id runtime.RemoteObjectID) *runtime.CallArgument {
	return &runtime.CallArgument{ObjectID: id}
}

// Decode unmarshals the by-value payload of obj into v. An undefined or
// missing value leaves v untouched.
func Decode(obj *runtime.RemoteObject, v interface{}) error {
	if obj == nil || len(obj.Value) == 0 {
		return nil
	}
	if err := json.Unmarshal([]byte(obj.Value), v); err != nil {
		return schemas.Statusf(schemas.UnexpectedError, "malformed reply value %s: %v", string(obj.Value), err)
	}
	return nil
}

// Call runs fn with this bound to objectID in the session of frameID and
// returns the normalized result.
func Call(ctx context.Context, c Client, frameID cdp.FrameID, objectID runtime.RemoteObjectID, fn string, returnByValue bool, args ...interface{}) (*runtime.RemoteObject, error) {
	callArgs := make([]*runtime.CallArgument, 0, len(args))
	for _, a := range args {
		if arg, ok := a.(*runtime.CallArgument); ok {
			callArgs = append(callArgs, arg)
			continue
		}
		arg, err := Arg(a)
		if err != nil {
			return nil, err
		}
		callArgs = append(callArgs, arg)
	}

	p := runtime.CallFunctionOn(fn).
		WithObjectID(objectID).
		WithArguments(callArgs).
		WithReturnByValue(returnByValue).
		WithSilent(true)
	obj, exc, err := c.CallFunctionOn(ctx, p, frameID)
	if err := checkResult(2, exc, err); err != nil {
		return nil, err
	}
	return obj, nil
}

// CallValue is Call with returnByValue, decoding the reply into v.
func CallValue(ctx context.Context, c Client, frameID cdp.FrameID, objectID runtime.RemoteObjectID, fn string, v interface{}, args ...interface{}) error {
	obj, err := Call(ctx, c, frameID, objectID, fn, true, args...)
	if err != nil {
		return err
	}
	if v == nil {
		return nil
	}
	return Decode(obj, v)
}

// EvaluateValue evaluates expr in the session of frameID and decodes the
// by-value result into v.
func EvaluateValue(ctx context.Context, c Client, frameID cdp.FrameID, expr string, v interface{}) error {
	obj, exc, err := c.Evaluate(ctx, runtime.Evaluate(expr).WithReturnByValue(true).WithSilent(true), frameID)
	if err := checkResult(2, exc, err); err != nil {
		return err
	}
	return Decode(obj, v)
}

// ArrayElements lists the object ids of the indexed entries of a remote array.
func ArrayElements(ctx context.Context, c Client, frameID cdp.FrameID, array runtime.RemoteObjectID) ([]runtime.RemoteObjectID, error) {
	props, exc, err := c.GetProperties(ctx, runtime.GetProperties(array).WithOwnProperties(true), frameID)
	if err := checkResult(2, exc, err); err != nil {
		return nil, err
	}

	type indexed struct {
		i  int
		id runtime.RemoteObjectID
	}
	var items []indexed
	for _, p := range props {
		i, convErr := strconv.Atoi(p.Name)
		if convErr != nil || i < 0 {
			continue
		}
		if p.Value == nil || p.Value.ObjectID == "" {
			continue
		}
		items = append(items, indexed{i: i, id: p.Value.ObjectID})
	}

	sort.Slice(items, func(a, b int) bool { return items[a].i < items[b].i })
	out := make([]runtime.RemoteObjectID, len(items))
	for k, it := range items {
		out[k] = it.id
	}
	return out, nil
}
