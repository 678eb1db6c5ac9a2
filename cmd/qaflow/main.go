// qaflow 问答服务的命令行入口。
package main

import (
	"fmt"
	"os"
)

// version 由构建时 -ldflags 注入。
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
