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

//go:build linux

package hgap

import (
	"net"
	"os"

	"github.com/xtaci/tcpraw"
	"golang.org/x/sys/unix"
)

func dialTCPRaw(target string) (net.PacketConn, error) {
	return tcpraw.Dial("tcp", target)
}

func listenTCPRaw(bind string) (net.PacketConn, error) {
	return tcpraw.Listen("tcp", bind)
}

// hintSequential tells the kernel the file will be written once,
// sequentially, and not read back.
func hintSequential(f *os.File) {
	fd := int(f.Fd())
	unix.Fadvise(fd, 0, 0, unix.FADV_SEQUENTIAL)
	unix.Fadvise(fd, 0, 0, unix.FADV_NOREUSE)
}
