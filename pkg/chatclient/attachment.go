package chatclient

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"

	"lumichat/internal/config"
	"lumichat/internal/model"

	"github.com/gen2brain/go-fitz"
	"github.com/google/uuid"
)

// Kind 附件的归一化类别
type Kind string

const (
	KindImage Kind = "image"
	KindText  Kind = "text"
	KindPDF   Kind = "pdf"
)

// Attachment 归一化后的附件。
// 载荷齐备之前附件不会进入任何请求:image的Data、text的Data、
// pdf的Pages都在归一化阶段一次性生成。
type Attachment struct {
	ID         string
	Kind       Kind
	SourceName string
	Data       string   // image: base64 data URI; text: 解码后的文本
	Pages      []string // pdf: 按页序排列的页面图片(data URI)
	Preview    string   // image: 同Data; pdf: Pages[0]
}

// Warning 单个文件归一化失败的记录。
// 失败是按文件隔离的,不影响批次中的其他文件。
type Warning struct {
	Name   string
	Reason string
}

// Normalizer 把用户文件转换为归一化附件
type Normalizer struct {
	MaxFileSize int64   // 源文件大小上限
	MaxPDFPages int     // PDF最多保留的页数(取文档前N页)
	RenderScale float64 // PDF页面渲染放大倍数
	JPEGQuality int     // 页面图片压缩质量
}

func NewNormalizer() *Normalizer {
	return &Normalizer{
		MaxFileSize: 20 << 20,
		MaxPDFPages: 10,
		RenderScale: 2.0,
		JPEGQuality: 80,
	}
}

// ApplyConfig 应用外部配置的附件限制,零值字段保持当前值
func (n *Normalizer) ApplyConfig(att config.AttachmentConfig) {
	if att.MaxFileSize > 0 {
		n.MaxFileSize = att.MaxFileSize
	}
	if att.MaxPDFPages > 0 {
		n.MaxPDFPages = att.MaxPDFPages
	}
	if att.RenderScale > 0 {
		n.RenderScale = att.RenderScale
	}
	if att.JPEGQuality > 0 {
		n.JPEGQuality = att.JPEGQuality
	}
}

var imageExts = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
}

var textExts = map[string]struct{}{
	".txt": {}, ".md": {}, ".markdown": {}, ".json": {}, ".yaml": {}, ".yml": {},
	".csv": {}, ".log": {}, ".xml": {}, ".toml": {}, ".html": {}, ".css": {},
	".go": {}, ".py": {}, ".js": {}, ".ts": {}, ".java": {}, ".rs": {},
	".c": {}, ".cpp": {}, ".cs": {}, ".sh": {}, ".sql": {},
}

// classify 根据扩展名判断类别,扩展名不认识时回退到声明的content type
func classify(name, contentType string) Kind {
	ext := strings.ToLower(filepath.Ext(name))
	if _, ok := imageExts[ext]; ok {
		return KindImage
	}
	if _, ok := textExts[ext]; ok {
		return KindText
	}
	if ext == ".pdf" {
		return KindPDF
	}

	switch {
	case strings.HasPrefix(contentType, "image/"):
		return KindImage
	case strings.HasPrefix(contentType, "text/"), contentType == "application/json":
		return KindText
	case contentType == "application/pdf":
		return KindPDF
	}
	return ""
}

// Normalize 把单个文件内容归一化为附件
func (n *Normalizer) Normalize(name, contentType string, data []byte) (Attachment, error) {
	if int64(len(data)) > n.MaxFileSize {
		return Attachment{}, fmt.Errorf("文件超过大小限制(%d字节)", n.MaxFileSize)
	}

	kind := classify(name, contentType)
	if kind == "" {
		return Attachment{}, fmt.Errorf("不支持的文件类型")
	}

	att := Attachment{
		ID:         uuid.NewString(),
		Kind:       kind,
		SourceName: name,
	}

	switch kind {
	case KindImage:
		att.Data = dataURI(imageMIME(name, contentType), data)
		att.Preview = att.Data
	case KindText:
		att.Data = string(data)
	case KindPDF:
		pages, err := n.renderPDF(data)
		if err != nil {
			return Attachment{}, fmt.Errorf("PDF处理失败: %w", err)
		}
		att.Pages = pages
		att.Preview = pages[0]
	}

	return att, nil
}

// NormalizeFiles 逐个读取并归一化一批本地文件。
// 逐文件顺序处理以约束PDF渲染的峰值内存;返回的附件保持输入顺序,
// 单个文件的失败记录为Warning,不会中断其余文件。
func (n *Normalizer) NormalizeFiles(paths []string) ([]Attachment, []Warning) {
	var out []Attachment
	var warnings []Warning

	for _, p := range paths {
		name := filepath.Base(p)

		info, err := os.Stat(p)
		if err != nil {
			warnings = append(warnings, Warning{Name: name, Reason: "无法读取文件: " + err.Error()})
			continue
		}
		// 读入之前先检查大小
		if info.Size() > n.MaxFileSize {
			warnings = append(warnings, Warning{Name: name, Reason: fmt.Sprintf("文件超过大小限制(%d字节)", n.MaxFileSize)})
			continue
		}

		data, err := os.ReadFile(p)
		if err != nil {
			warnings = append(warnings, Warning{Name: name, Reason: "无法读取文件: " + err.Error()})
			continue
		}

		att, err := n.Normalize(name, "", data)
		if err != nil {
			warnings = append(warnings, Warning{Name: name, Reason: err.Error()})
			continue
		}
		out = append(out, att)
	}

	return out, warnings
}

// renderPDF 把PDF的前N页渲染为JPEG图片,页序与文档一致
func (n *Normalizer) renderPDF(data []byte) ([]string, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, err
	}
	defer doc.Close()

	count := doc.NumPage()
	if count > n.MaxPDFPages {
		count = n.MaxPDFPages
	}
	if count == 0 {
		return nil, fmt.Errorf("文档没有可渲染的页面")
	}

	pages := make([]string, 0, count)
	for i := 0; i < count; i++ {
		img, err := doc.ImageDPI(i, 72*n.RenderScale)
		if err != nil {
			return nil, fmt.Errorf("第%d页渲染失败: %w", i+1, err)
		}

		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: n.JPEGQuality}); err != nil {
			return nil, fmt.Errorf("第%d页编码失败: %w", i+1, err)
		}
		pages = append(pages, dataURI("image/jpeg", buf.Bytes()))
	}

	return pages, nil
}

// toWire 把归一化附件展开为线上传输形式。
// PDF按页展开为多个image附件,页序保持文档顺序。
func toWire(atts []Attachment) []model.Attachment {
	var out []model.Attachment
	for _, a := range atts {
		switch a.Kind {
		case KindImage:
			out = append(out, model.Attachment{Type: model.AttachmentImage, Data: a.Data, Name: a.SourceName})
		case KindText:
			out = append(out, model.Attachment{Type: model.AttachmentText, Data: a.Data, Name: a.SourceName})
		case KindPDF:
			for i, page := range a.Pages {
				out = append(out, model.Attachment{
					Type: model.AttachmentImage,
					Data: page,
					Name: fmt.Sprintf("%s#page=%d", a.SourceName, i+1),
				})
			}
		}
	}
	return out
}

func imageMIME(name, contentType string) string {
	if mime, ok := imageExts[strings.ToLower(filepath.Ext(name))]; ok {
		return mime
	}
	if contentType != "" {
		return contentType
	}
	return "image/png"
}

func dataURI(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}
