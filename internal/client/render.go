package client

import (
	"fmt"
	"strings"
	"time"
)

// Render 把视图渲染为终端文本
func Render(v View, now time.Time) string {
	var b strings.Builder

	fmt.Fprintf(&b, "状态: %s", v.StatusText)
	if elapsed := v.Elapsed(now); elapsed > 0 {
		fmt.Fprintf(&b, "  已等待 %s", FormatWait(elapsed))
	}
	b.WriteString("\n")

	for i, e := range v.History {
		fmt.Fprintf(&b, "\n[%d] %s\n", i+1, e.ImageURL)
		if e.DisplayURL != "" {
			fmt.Fprintf(&b, "    图片: %s\n", e.DisplayURL)
		}
		switch {
		case e.Failed:
			fmt.Fprintf(&b, "    %s (等待 %s)\n", e.ErrorMsg, e.WaitTime)
		case e.Final:
			fmt.Fprintf(&b, "    用时 %s\n%s\n", e.WaitTime, e.Answer)
		case e.Superseded:
			fmt.Fprintf(&b, "    已被新的截图替代\n%s\n", e.Answer)
		case e.Answer != "":
			fmt.Fprintf(&b, "    生成中...\n%s\n", e.Answer)
		default:
			b.WriteString("    正在分析图片...\n")
		}
	}
	return b.String()
}
