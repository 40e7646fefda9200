package main

import (
	"fmt"

	"github.com/Rjbeckwith55/app/internal/manifest"
	"github.com/Rjbeckwith55/app/internal/version"
)

// printVersion 输出版本、提交信息以及内置资源表的摘要，便于核对构建产物。
func printVersion() {
	builtin := manifest.Default()
	fmt.Fprintf(stdOut, "%s resources=%d digest=%s\n", version.Full(), builtin.Len(), builtin.Digest())
}
