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

package main

import (
	"log"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/urfave/cli"

	"github.com/cea-sec/hairgap/errcode"
	"github.com/cea-sec/hairgap/hgap"
)

// VERSION is populated via build flags when packaging official binaries.
var VERSION = "SELFBUILD"

func main() {
	if VERSION == "SELFBUILD" {
		// Enable timestamps + file:line to simplify debugging self-built binaries.
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	myApp := cli.NewApp()
	myApp.Name = "hairgaps"
	myApp.Usage = "reliably send data over a unidirectional network"
	myApp.UsageText = "hairgaps [options] dest_ip"
	myApp.Version = VERSION
	myApp.Flags = []cli.Flag{
		cli.IntFlag{
			Name:  "port,p",
			Value: hgap.DefPort,
			Usage: "destination port",
		},
		cli.Float64Flag{
			Name:  "redund,r",
			Value: hgap.DefRedund,
			Usage: "redundancy ratio (1.2 will send 1.2 times more data than the original)",
		},
		cli.Float64Flag{
			Name:  "rate,b",
			Value: 0,
			Usage: "rate limit in MB/s, 0 to disable",
		},
		cli.IntFlag{
			Name:  "npkt,N",
			Value: hgap.DefNPkt,
			Usage: "number of UDP packets in an error correction chunk. Default (and ideal) is 1000, increasing it will make the transfer more robust to big loss bursts, but possibly slower. 2 <= NUM <= 64000",
		},
		cli.IntFlag{
			Name:  "mtu,M",
			Value: hgap.DefPktSize,
			Usage: "size in bytes of the UDP payloads to send",
		},
		cli.IntFlag{
			Name:  "keepalive,k",
			Value: 500,
			Usage: "keepalive period in ms, 0 disables keepalives",
		},
		cli.BoolFlag{
			Name:  "tcp",
			Usage: "to emulate a TCP connection(linux)",
		},
		cli.StringFlag{
			Name:  "log",
			Value: "",
			Usage: "specify a log file to output, default goes to stderr",
		},
		cli.StringFlag{
			Name:  "c",
			Value: "", // when the value is not empty, the config path must exists
			Usage: "config from json file, which will override the command from shell",
		},
	}
	myApp.Action = func(c *cli.Context) error {
		config := Config{}
		config.Addr = c.Args().First()
		config.Port = c.Int("port")
		config.Redund = c.Float64("redund")
		config.RateMBps = c.Float64("rate")
		config.NPkt = c.Int("npkt")
		config.MTU = c.Int("mtu")
		config.KeepAlive = c.Int("keepalive")
		config.TCP = c.Bool("tcp")
		config.Log = c.String("log")

		if c.String("c") != "" {
			// Only JSON configuration files are supported at the moment.
			err := parseJSONConfig(&config, c.String("c"))
			checkError(err)
		}

		// Redirect logs when the user supplied a dedicated log file.
		if config.Log != "" {
			f, err := os.OpenFile(config.Log, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
			checkError(err)
			defer f.Close()
			log.SetOutput(f)
		}

		if config.Addr == "" {
			cli.ShowAppHelp(c)
			os.Exit(int(errcode.InvalidAddr))
		}

		cfg := hgap.Defaults()
		cfg.In = os.Stdin
		cfg.Addr = config.Addr
		cfg.Port = config.Port
		cfg.Redund = config.Redund
		cfg.ByteRate = config.RateMBps * 1024 * 1024
		cfg.NPkt = config.NPkt
		cfg.PktSize = config.MTU
		cfg.KeepAlive = time.Duration(config.KeepAlive) * time.Millisecond
		cfg.TCP = config.TCP

		log.Println("version:", VERSION)
		cfg.Dump(log.Println)

		if cfg.Redund >= 1.0 && cfg.Redund < 1.05 {
			color.Red("WARNING: redundancy %.2f leaves almost no margin for packet loss.", cfg.Redund)
			color.Red("Any lost packet of a chunk will abort the transfer, consider 1.2 or more.")
		}

		if err := hgap.Send(&cfg); err != nil {
			log.Printf("hairgaps failed: %+v", err)
			os.Exit(int(errcode.Of(err)))
		}
		return nil
	}
	myApp.Run(os.Args)
}

func checkError(err error) {
	if err != nil {
		log.Printf("%+v\n", err)
		os.Exit(int(errcode.Internal))
	}
}
