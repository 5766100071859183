// Copyright 2021 - 2024 Matrix Origin
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package moerr

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
)

const (
	// 0 - 99 is OK.  They do not contain info, and are special handled
	// using a static instance, no alloc.
	Ok              uint16 = 0
	OkStopCurrRecur uint16 = 1
	OkExpectedEOF   uint16 = 2 // Expected End Of File
	OkExpectedEOB   uint16 = 3 // Expected End of Batch

	OkMax uint16 = 99

	// Group 1: Internal errors
	ErrStart            uint16 = 20100
	ErrInternal         uint16 = 20101
	ErrNYI              uint16 = 20102
	ErrOOM              uint16 = 20103
	ErrTaskInterrupted  uint16 = 20104
	ErrNotSupported     uint16 = 20105
	ErrMemLimitExceeded uint16 = 20106

	// Group 2: numeric and arguments
	ErrOutOfRange uint16 = 20201
	ErrInvalidArg uint16 = 20203

	// Group 3: invalid input
	ErrBadConfig    uint16 = 20300
	ErrInvalidInput uint16 = 20301
	ErrDuplicate    uint16 = 20305

	// Group 4: unexpected state and io errors
	ErrInvalidState      uint16 = 20400
	ErrFileNotFound      uint16 = 20405
	ErrFileAlreadyExists uint16 = 20406
	ErrUnexpectedEOF     uint16 = 20407
	ErrEmptyRange        uint16 = 20408
	ErrSizeNotMatch      uint16 = 20409
	ErrInvalidPath       uint16 = 20411
	ErrShortBuffer       uint16 = 20414

	// Group 5: storage
	ErrNotFound              uint16 = 20501
	ErrCorruption            uint16 = 20502
	ErrIOError               uint16 = 20503
	ErrTabletNotFound        uint16 = 20504
	ErrRowsetNotFound        uint16 = 20505
	ErrVersionNotContinuous  uint16 = 20506
	ErrTabletAlreadyExists   uint16 = 20507
	ErrCapacityLimitExceeded uint16 = 20508
	ErrIndexNotLoaded        uint16 = 20509
	ErrTimeout               uint16 = 20510

	// ErrEnd, the max value of MOErrorCode
	ErrEnd uint16 = 65535
)

type moErrorMsgItem struct {
	errorMsgOrFormat string
}

var errorMsgRefer = map[uint16]moErrorMsgItem{
	// OK code not in this table.  They should not have a msg.
	// Group 1: Internal errors
	ErrStart:            {"internal error: error code start"},
	ErrInternal:         {"internal error: %s"},
	ErrNYI:              {"%s is not yet implemented"},
	ErrOOM:              {"error: out of memory"},
	ErrTaskInterrupted:  {"task interrupted: %s"},
	ErrNotSupported:     {"not supported: %s"},
	ErrMemLimitExceeded: {"memory limit exceeded: %s, limit %d, consumption %d"},

	// Group 2: numeric and arguments
	ErrOutOfRange: {"data out of range: data type %s, %s"},
	ErrInvalidArg: {"invalid argument %s, bad value %s"},

	// Group 3: invalid input
	ErrBadConfig:    {"invalid configuration: %s"},
	ErrInvalidInput: {"invalid input: %s"},
	ErrDuplicate:    {"duplicate: %s"},

	// Group 4: unexpected state and io errors
	ErrInvalidState:      {"invalid state %s"},
	ErrFileNotFound:      {"file %s is not found"},
	ErrFileAlreadyExists: {"file %s already exists"},
	ErrUnexpectedEOF:     {"unexpected end of file %s"},
	ErrEmptyRange:        {"empty range of file %s"},
	ErrSizeNotMatch:      {"file %s size does not match"},
	ErrInvalidPath:       {"invalid file path %s"},
	ErrShortBuffer:       {"short buffer: %s"},

	// Group 5: storage
	ErrNotFound:              {"not found: %s"},
	ErrCorruption:            {"data corruption: %s"},
	ErrIOError:               {"io error on %s: %s"},
	ErrTabletNotFound:        {"tablet %d not found"},
	ErrRowsetNotFound:        {"rowset %s not found"},
	ErrVersionNotContinuous:  {"version [0-%d] of tablet %d is not continuous, missing after %d"},
	ErrTabletAlreadyExists:   {"tablet %d already exists"},
	ErrCapacityLimitExceeded: {"capacity limit exceeded on %s: need %d, available %d"},
	ErrIndexNotLoaded:        {"%s index is not loaded"},
	ErrTimeout:               {"%s timeout"},

	// Group End: max value of MOErrorCode
	ErrEnd: {"internal error: end of errcode code"},
}

func newError(ctx context.Context, code uint16, args ...any) *Error {
	item, has := errorMsgRefer[code]
	if !has {
		panic(NewInternalError(ctx, "not exist MOErrorCode: %d", code))
	}
	msg := item.errorMsgOrFormat
	if len(args) != 0 {
		msg = fmt.Sprintf(item.errorMsgOrFormat, args...)
	}
	return &Error{
		code:    code,
		message: msg,
	}
}

type Error struct {
	code    uint16
	message string
	detail  string
	cause   error
}

func (e *Error) Error() string {
	if e.cause == nil {
		return e.message
	}
	return fmt.Sprintf("%s: %v", e.message, e.cause)
}

func (e *Error) Detail() string {
	return e.detail
}

func (e *Error) Display() string {
	if len(e.detail) == 0 {
		return e.Error()
	}
	return fmt.Sprintf("%s: %s", e.Error(), e.detail)
}

func (e *Error) ErrorCode() uint16 {
	return e.code
}

// Unwrap exposes the low level error a storage error was built from so that
// errors.Is / errors.As keep working on os and pebble errors.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports whether target carries the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.code == e.code
}

func (e *Error) Succeeded() bool {
	return e.code < OkMax
}

func IsMoErrCode(e error, rc uint16) bool {
	if e == nil {
		return rc == Ok
	}
	me, ok := e.(*Error)
	if !ok {
		// This is not a moerr
		return false
	}
	return me.code == rc
}

func DowncastError(e error) *Error {
	if err, ok := e.(*Error); ok {
		return err
	}
	return newError(Context(), ErrInternal, fmt.Sprintf("downcast error failed: %v", e))
}

// ConvertGoError converts a go error into mo error.
// Note here we must return error, because nil error
// is the same as nil *Error -- Go strangeness.
func ConvertGoError(ctx context.Context, err error) error {
	// nil is nil
	if err == nil {
		return err
	}

	// already a moerr, return it as is
	if _, ok := err.(*Error); ok {
		return err
	}

	// Convert a few well known os/go error.
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		// if io.EOF reaches here, we believe it is not expected.
		return AttachCause(NewUnexpectedEOF(ctx, err.Error()), err)
	}

	return AttachCause(NewInternalError(ctx, "convert go error to mo error"), err)
}

// AttachCause records the lower level error on e and returns e.
func AttachCause(e *Error, cause error) *Error {
	e.cause = cause
	return e
}

// WithDetail returns e with extra context (path, rowset id ...) that
// shows up in Display and logs.
func WithDetail(e *Error, format string, args ...any) *Error {
	if len(args) == 0 {
		e.detail = format
	} else {
		e.detail = fmt.Sprintf(format, args...)
	}
	return e
}

// Special handling of OK code.   This code are not errors, but used to
// signal different success conditions.  Readers use ExpectedEOF to tell
// the caller that a stream is exhausted.  Ok code does not have any
// contextual info.  It is just a code.
//
// The returned *Error can be tested with either
//
//	   if err == GetOkXXX()
//	or if moerr.IsMoErrCode(err, moerr.OkXXX)
var errOkStopCurrRecur = Error{code: OkStopCurrRecur, message: "StopCurrRecur"}
var errOkExpectedEOF = Error{code: OkExpectedEOF, message: "ExpectedEOF"}
var errOkExpectedEOB = Error{code: OkExpectedEOB, message: "ExpectedEOB"}

func GetOkStopCurrRecur() *Error {
	return &errOkStopCurrRecur
}

func GetOkExpectedEOF() *Error {
	return &errOkExpectedEOF
}

func GetOkExpectedEOB() *Error {
	return &errOkExpectedEOB
}

func NewInternalError(ctx context.Context, msg string, args ...any) *Error {
	xmsg := fmt.Sprintf(msg, args...)
	return newError(ctx, ErrInternal, xmsg)
}

func NewNYI(ctx context.Context, msg string, args ...any) *Error {
	xmsg := fmt.Sprintf(msg, args...)
	return newError(ctx, ErrNYI, xmsg)
}

func NewNotSupported(ctx context.Context, msg string, args ...any) *Error {
	xmsg := fmt.Sprintf(msg, args...)
	return newError(ctx, ErrNotSupported, xmsg)
}

func NewOOM(ctx context.Context) *Error {
	return newError(ctx, ErrOOM)
}

func NewTaskInterrupted(ctx context.Context, msg string, args ...any) *Error {
	xmsg := fmt.Sprintf(msg, args...)
	return newError(ctx, ErrTaskInterrupted, xmsg)
}

func NewMemLimitExceeded(ctx context.Context, label string, limit, consumption int64) *Error {
	return newError(ctx, ErrMemLimitExceeded, label, limit, consumption)
}

func NewOutOfRange(ctx context.Context, typ string, msg string, args ...any) *Error {
	xmsg := fmt.Sprintf(msg, args...)
	return newError(ctx, ErrOutOfRange, typ, xmsg)
}

func NewInvalidArg(ctx context.Context, arg string, val any) *Error {
	return newError(ctx, ErrInvalidArg, arg, fmt.Sprintf("%v", val))
}

func NewBadConfig(ctx context.Context, msg string, args ...any) *Error {
	xmsg := fmt.Sprintf(msg, args...)
	return newError(ctx, ErrBadConfig, xmsg)
}

func NewInvalidInput(ctx context.Context, msg string, args ...any) *Error {
	xmsg := fmt.Sprintf(msg, args...)
	return newError(ctx, ErrInvalidInput, xmsg)
}

func NewDuplicate(ctx context.Context, msg string, args ...any) *Error {
	xmsg := fmt.Sprintf(msg, args...)
	return newError(ctx, ErrDuplicate, xmsg)
}

func NewInvalidState(ctx context.Context, msg string, args ...any) *Error {
	xmsg := fmt.Sprintf(msg, args...)
	return newError(ctx, ErrInvalidState, xmsg)
}

func NewFileNotFound(ctx context.Context, f string) *Error {
	return newError(ctx, ErrFileNotFound, f)
}

func NewFileAlreadyExists(ctx context.Context, f string) *Error {
	return newError(ctx, ErrFileAlreadyExists, f)
}

func NewUnexpectedEOF(ctx context.Context, f string) *Error {
	return newError(ctx, ErrUnexpectedEOF, f)
}

func NewEmptyRange(ctx context.Context, f string) *Error {
	return newError(ctx, ErrEmptyRange, f)
}

func NewSizeNotMatch(ctx context.Context, f string) *Error {
	return newError(ctx, ErrSizeNotMatch, f)
}

func NewInvalidPath(ctx context.Context, f string) *Error {
	return newError(ctx, ErrInvalidPath, f)
}

func NewShortBuffer(ctx context.Context, msg string, args ...any) *Error {
	xmsg := fmt.Sprintf(msg, args...)
	return newError(ctx, ErrShortBuffer, xmsg)
}

func NewNotFound(ctx context.Context, msg string, args ...any) *Error {
	xmsg := fmt.Sprintf(msg, args...)
	return newError(ctx, ErrNotFound, xmsg)
}

func NewCorruption(ctx context.Context, msg string, args ...any) *Error {
	xmsg := fmt.Sprintf(msg, args...)
	return newError(ctx, ErrCorruption, xmsg)
}

// NewIOError wraps a failed I/O call on path.
func NewIOError(ctx context.Context, path string, cause error) *Error {
	return AttachCause(newError(ctx, ErrIOError, path, "failed"), cause)
}

func NewTabletNotFound(ctx context.Context, tabletID int64) *Error {
	return newError(ctx, ErrTabletNotFound, tabletID)
}

func NewRowsetNotFound(ctx context.Context, rowsetID string) *Error {
	return newError(ctx, ErrRowsetNotFound, rowsetID)
}

func NewVersionNotContinuous(ctx context.Context, tabletID int64, version, missingAfter int64) *Error {
	return newError(ctx, ErrVersionNotContinuous, version, tabletID, missingAfter)
}

func NewTabletAlreadyExists(ctx context.Context, tabletID int64) *Error {
	return newError(ctx, ErrTabletAlreadyExists, tabletID)
}

func NewCapacityLimitExceeded(ctx context.Context, path string, need, available uint64) *Error {
	return newError(ctx, ErrCapacityLimitExceeded, path, need, available)
}

func NewIndexNotLoaded(ctx context.Context, kind string) *Error {
	return newError(ctx, ErrIndexNotLoaded, kind)
}

func NewTimeout(ctx context.Context, what string) *Error {
	return newError(ctx, ErrTimeout, what)
}

func NewInternalErrorNoCtx(msg string, args ...any) *Error {
	return NewInternalError(Context(), msg, args...)
}

func NewInvalidArgNoCtx(arg string, val any) *Error {
	return NewInvalidArg(Context(), arg, val)
}

func NewNotFoundNoCtx(msg string, args ...any) *Error {
	return NewNotFound(Context(), msg, args...)
}

func NewCorruptionNoCtx(msg string, args ...any) *Error {
	return NewCorruption(Context(), msg, args...)
}

func NewFileNotFoundNoCtx(f string) *Error {
	return NewFileNotFound(Context(), f)
}

var contextFunc atomic.Value

func SetContextFunc(f func() context.Context) {
	contextFunc.Store(f)
}

// Context returns the default context used by the NoCtx constructors.
func Context() context.Context {
	return contextFunc.Load().(func() context.Context)()
}

func init() {
	SetContextFunc(func() context.Context { return context.Background() })
}
