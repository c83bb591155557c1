// The MIT License (MIT)
//
// Copyright (c) 2017 CEA Sec
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package errcode defines the flat error taxonomy shared by every hairgap
// component. Codes double as the process exit status, and their numeric
// order encodes severity: among non-success codes, smaller is more severe.
package errcode

// Code is a hairgap status. The zero value is Success.
type Code int

const (
	Success Code = iota
	// EOT is not an error, it bounds read loops at end of transfer.
	EOT
	NoConfig
	MTUTooSmall
	MTUTooBig
	InvalidAddr
	BadFD
	BadInFD
	BadOutFD
	FileRead
	BadNPkt
	BadRedund
	EngineError
	BufferTooSmall
	IncompleteChunk
	BadChunk
	BadPkt
	Timeout
	Network
	IPC
	Internal
)

// Error makes a Code usable as an error value and as a wrap cause for
// github.com/pkg/errors chains.
func (c Code) Error() string { return c.String() }

func (c Code) String() string {
	switch c {
	case Success:
		return "success"
	case EOT:
		return "end of transfer"
	case NoConfig:
		return "no configuration passed (logic error)"
	case MTUTooSmall:
		return "MTU too small (should be more than the header length)"
	case MTUTooBig:
		return "MTU too big (> 1500)"
	case InvalidAddr:
		return "invalid address or host"
	case BadFD:
		return "bad file descriptor"
	case BadInFD:
		return "bad input file descriptor"
	case BadOutFD:
		return "bad output file descriptor"
	case FileRead:
		return "error while reading input file"
	case BadNPkt:
		return "bad number of packets per chunk (should be <= 64000)"
	case BadRedund:
		return "bad redundancy, should be >= 1.0"
	case EngineError:
		return "error correction engine error"
	case BufferTooSmall:
		return "buffer too small"
	case IncompleteChunk:
		return "chunk could not be reassembled (probably too many lost packets)"
	case BadChunk:
		return "invalid chunk (probably too big)"
	case BadPkt:
		return "invalid packet (probably too small)"
	case Timeout:
		return "receive socket probably timed out"
	case Network:
		return "unspecified network error"
	case IPC:
		return "internal (IPC) error"
	case Internal:
		return "internal error"
	default:
		return "unknown error"
	}
}

// causer is the interface of github.com/pkg/errors wrapped errors.
type causer interface {
	Cause() error
}

// Of extracts the Code at the root of an error chain. A nil error maps to
// Success, an error that does not originate from a Code maps to Internal.
func Of(err error) Code {
	for err != nil {
		if c, ok := err.(Code); ok {
			return c
		}
		cause, ok := err.(causer)
		if !ok {
			return Internal
		}
		err = cause.Cause()
	}
	return Success
}

// Select picks the most severe of two codes: any non-success code wins over
// Success, and among non-success codes the numerically smaller one wins.
func Select(a, b Code) Code {
	if a == Success {
		return b
	}
	if b == Success {
		return a
	}
	if a < b {
		return a
	}
	return b
}
