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
	myApp.Name = "hairgapr"
	myApp.Usage = "reliably receive data over a unidirectional network"
	myApp.UsageText = "hairgapr [options] bind_ip"
	myApp.Version = VERSION
	myApp.Flags = []cli.Flag{
		cli.IntFlag{
			Name:  "port,p",
			Value: hgap.DefPort,
			Usage: "bind port",
		},
		cli.IntFlag{
			Name:  "timeout,t",
			Value: 1,
			Usage: "timeout in seconds. If no packets are received for <timeout> seconds, the transfer is interrupted",
		},
		cli.IntFlag{
			Name:  "memlimit,m",
			Value: 100,
			Usage: "rough memory limit in megabytes",
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
		config.TimeoutS = c.Int("timeout")
		config.MemLimitMB = c.Int("memlimit")
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
		cfg.Out = os.Stdout
		cfg.Addr = config.Addr
		cfg.Port = config.Port
		cfg.Timeout = time.Duration(config.TimeoutS) * time.Second
		cfg.MemLimit = int64(config.MemLimitMB) * 1024 * 1024
		cfg.TCP = config.TCP

		log.Println("version:", VERSION)
		cfg.Dump(log.Println)

		if err := hgap.Receive(&cfg); err != nil {
			log.Printf("hairgapr failed: %+v", err)
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
