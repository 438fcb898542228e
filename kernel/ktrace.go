//
// Copyright (c) 2025-2026 Markku Rossi
//
// All rights reserved.
//

package kernel

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/markkurossi/tilert/kif"
	"github.com/markkurossi/tilert/tcu"
)

func (sys *System) ktracePrefix(act *actState) {
	if !sys.params.Trace {
		return
	}
	fmt.Printf("T%02d:A%02d %-8s ", act.tile, act.id, act.name)
}

func (sys *System) ktraceHex(data []byte) {
	if !sys.params.TraceHex {
		return
	}
	dump := hex.Dump(data)
	lines := strings.Split(dump, "\n")

	var separator = "    -------------------------------------------------------------------------"
	fmt.Println()
	fmt.Println(separator)

	for idx, line := range lines {
		var n string
		for i := 1; i < len(line); i++ {
			if line[i] == '0' && i+1 < len(line) && line[i+1] != ' ' {
				n = n + " "
			} else {
				n += line[i:]
				break
			}
		}
		if idx+1 < len(lines) || len(n) > 0 {
			fmt.Println(n)
		}
	}
	fmt.Println(separator)
}

func (sys *System) ktraceCall(act *actState, call kif.Syscall, data []byte) {
	if !sys.params.Trace {
		return
	}
	const dataLimit = 16

	sys.ktracePrefix(act)
	fmt.Printf("CALL %s", call)
	if len(data) <= dataLimit {
		fmt.Printf("(%x)", data)
	} else {
		fmt.Printf("(%x..., %d)", data[:dataLimit], len(data))
	}
	fmt.Println()
	sys.ktraceHex(data)
}

func (sys *System) ktraceRet(act *actState, call kif.Syscall, err error,
	results []uint64) {

	if !sys.params.Trace {
		return
	}
	sys.ktracePrefix(act)
	fmt.Printf("RET  %s ", call)
	if err != nil {
		fmt.Printf("%s", tcu.ErrorCode(err))
	} else if len(results) > 0 {
		fmt.Printf("ok %x", results)
	} else {
		fmt.Printf("ok")
	}
	fmt.Println()
}

func (sys *System) ktraceResmng(act *actState, op kif.Resmng, err error) {
	if !sys.params.Trace {
		return
	}
	sys.ktracePrefix(act)
	fmt.Printf("RMNG %s ", op)
	if err != nil {
		fmt.Printf("%s", tcu.ErrorCode(err))
	} else {
		fmt.Printf("ok")
	}
	fmt.Println()
}

func (sys *System) ktraceService(srv *srvObj, op kif.Service, ident uint64) {
	if !sys.params.Trace {
		return
	}
	fmt.Printf("T%02d:A%02d %-8s SERV %s ident=%d\n", srv.owner.tile,
		srv.owner.id, srv.name, op, ident)
}
