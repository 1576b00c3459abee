package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"lumichat/internal/config"
	"lumichat/pkg/chatclient"
)

func main() {
	var (
		server     string
		model      string
		configPath string
	)
	flag.StringVar(&server, "server", "http://localhost:8080", "聊天服务地址")
	flag.StringVar(&model, "model", "", "模型标识,留空使用服务端默认")
	flag.StringVar(&configPath, "config", "./configs/config.yaml", "配置文件路径,读取attachment限制参数")
	flag.Parse()

	client := chatclient.NewClient(server)
	client.Model = model

	if cfg, err := config.Load(configPath); err == nil {
		client.Normalizer.ApplyConfig(cfg.Attachment)
	} else {
		fmt.Fprintf(os.Stderr, "未加载配置文件(%v),使用默认附件限制\n", err)
	}

	conv := client.NewConversation()
	var pending []chatclient.Attachment

	fmt.Println("输入消息开始对话。/attach <文件> 添加附件,/new 新会话,/quit 退出。")

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)

	for {
		if len(pending) > 0 {
			fmt.Printf("[%d个附件] ", len(pending))
		}
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())

		switch {
		case line == "/quit":
			return
		case line == "/new":
			conv.Reset()
			pending = nil
			fmt.Println("已开始新会话")
			continue
		case strings.HasPrefix(line, "/attach "):
			paths := strings.Fields(strings.TrimPrefix(line, "/attach "))
			atts, warnings := conv.NormalizeFiles(paths)
			for _, w := range warnings {
				fmt.Printf("跳过 %s: %s\n", w.Name, w.Reason)
			}
			for _, a := range atts {
				fmt.Printf("已添加 %s (%s)\n", a.SourceName, a.Kind)
			}
			pending = append(pending, atts...)
			continue
		}

		printed := 0
		reply, err := conv.Send(context.Background(), line, pending, func(partial string) {
			fmt.Print(partial[printed:])
			printed = len(partial)
		})

		switch {
		case errors.Is(err, chatclient.ErrNothingToSend):
			continue
		case errors.Is(err, context.Canceled):
			continue
		}
		pending = nil

		// 失败说明和未流式输出的内容补齐后换行
		if printed == 0 && reply != "" {
			fmt.Print(reply)
		}
		fmt.Println()
	}
}
