package chatclient

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"lumichat/internal/model"
)

const framePrefix = "data: "

// Result 一次流式解码的最终结果
type Result struct {
	Content string       // 累积的完整回复;Err非空时为出错前已收到的部分
	Usage   *model.Usage // done事件携带的用量,可能为空
	Err     string       // error事件携带的说明,为空表示正常完成
}

// Decoder 从流式响应字节流中重建协议事件。
// 网络分块可能在任意字节处切断一帧甚至一个多字节字符,
// 因此只解析完整的行,剩余字节保留到下一次读取。
type Decoder struct {
	r   io.Reader
	buf []byte
	acc bytes.Buffer
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r}
}

// Run 持续读取直到终止事件、流结束或ctx取消。
// 每个content事件之后onUpdate会收到当前累积的完整文本。
// ctx取消时返回ctx.Err(),调用方不应把它当作用户可见的错误;
// 取消在每次读取边界检查,不是抢占式的。
func (d *Decoder) Run(ctx context.Context, onUpdate func(partial string)) (*Result, error) {
	chunk := make([]byte, 4096)

	for {
		n, readErr := d.r.Read(chunk)

		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if n > 0 {
			d.buf = append(d.buf, chunk[:n]...)

			for {
				line, ok := d.nextLine()
				if !ok {
					break
				}

				ev := parseFrame(line)
				if ev == nil {
					continue // 无法解析的行直接跳过
				}

				switch e := ev.(type) {
				case model.ContentEvent:
					d.acc.WriteString(e.Content)
					if onUpdate != nil {
						onUpdate(d.acc.String())
					}
				case model.DoneEvent:
					return &Result{Content: d.acc.String(), Usage: e.Usage}, nil
				case model.ErrorEvent:
					return &Result{Content: d.acc.String(), Err: e.Message}, nil
				}
			}
		}

		if readErr != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if readErr == io.EOF {
				// 流在终止事件之前被切断
				return nil, fmt.Errorf("流式响应意外结束")
			}
			return nil, readErr
		}
	}
}

// nextLine 取出一个完整的行(不含换行符),没有完整行时返回false
func (d *Decoder) nextLine() ([]byte, bool) {
	i := bytes.IndexByte(d.buf, '\n')
	if i < 0 {
		return nil, false
	}
	line := d.buf[:i]
	d.buf = d.buf[i+1:]
	return bytes.TrimSuffix(line, []byte("\r")), true
}

// parseFrame 解析一帧。空行、非data行和非法JSON都返回nil。
func parseFrame(line []byte) model.StreamEvent {
	if !bytes.HasPrefix(line, []byte(framePrefix)) {
		return nil
	}
	ev, err := model.DecodeStreamEvent(bytes.TrimPrefix(line, []byte(framePrefix)))
	if err != nil {
		return nil
	}
	return ev
}
