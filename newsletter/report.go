package main

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"net/smtp"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
)

const defaultReportTemplate = `<html>
<body>
<h2>{{.Product}} weekly report ({{.After}} &ndash; {{.Before}})</h2>
<p>{{.RunCount}} runs, {{.TaskCount}} tasks, {{.FailedCount}} failed.</p>
<h3>Runs</h3>
<table border="1" cellpadding="4" cellspacing="0">
<tr><th>ID</th><th>Name</th><th>Owner</th><th>Status</th><th>Creation</th></tr>
{{range .Runs}}<tr><td>{{.ID}}</td><td>{{.Name}}</td><td>{{.Owner}}</td><td>{{.Status}}</td><td>{{.Creation}}</td></tr>
{{end}}</table>
<h3>Top failing tests</h3>
<table border="1" cellpadding="4" cellspacing="0">
<tr><th>Tests</th><th>Times failed</th></tr>
{{range .TopFails}}<tr><td>{{.Name}}</td><td>{{.Count}}</td></tr>
{{end}}</table>
</body>
</html>`

type failRow struct {
	Name  string
	Count int64
}

type reportData struct {
	Product     string
	After       string
	Before      string
	Runs        []runSummary
	RunCount    int
	TaskCount   int
	FailedCount int
	TopFails    []failRow
}

// reporter assembles and delivers one product's weekly report. The object
// store archive is optional; a nil archive client skips it.
type reporter struct {
	logger  *slog.Logger
	store   *storeClient
	smtp    smtpConfig
	archive *minio.Client
	bucket  string
}

// buildReport collects the report window from the store. The window is the
// seven days ending yesterday, bounds inclusive. The store's before filter is
// exclusive, so the query bound is the day after the window's last day.
func (rp *reporter) buildReport(ctx context.Context, product ProductConfig, now time.Time) (reportData, error) {
	before := now.UTC().AddDate(0, 0, -1).Truncate(24 * time.Hour)
	after := before.AddDate(0, 0, -6)
	queryBound := before.AddDate(0, 0, 1)

	runs, err := rp.store.runsInWindow(ctx, product.Owner, after, queryBound)
	if err != nil {
		return reportData{}, fmt.Errorf("list runs: %w", err)
	}

	data := reportData{
		Product:  product.Name,
		After:    after.Format("2006-01-02"),
		Before:   before.Format("2006-01-02"),
		Runs:     runs,
		RunCount: len(runs),
	}

	for _, run := range runs {
		tasks, err := rp.store.runTasks(ctx, run.ID)
		if err != nil {
			return reportData{}, fmt.Errorf("list tasks of run %d: %w", run.ID, err)
		}
		data.TaskCount += len(tasks)
		for _, task := range tasks {
			if task.Result == "failed" || task.Result == "error" {
				data.FailedCount++
			}
		}
	}

	fails, err := rp.store.topFails(ctx, after, queryBound)
	if err != nil {
		return reportData{}, fmt.Errorf("failure counts: %w", err)
	}
	for _, row := range fails {
		name, _ := row[0].(string)
		count, _ := row[1].(float64)
		data.TopFails = append(data.TopFails, failRow{Name: name, Count: int64(count)})
	}

	return data, nil
}

func (rp *reporter) render(product ProductConfig, data reportData) (subject string, content string, err error) {
	text := defaultReportTemplate
	if product.Template != "" {
		raw, err := os.ReadFile(product.Template)
		if err != nil {
			return "", "", fmt.Errorf("read template %s: %w", product.Template, err)
		}
		text = string(raw)
	}

	tmpl, err := template.New("report").Parse(text)
	if err != nil {
		return "", "", fmt.Errorf("parse template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", "", fmt.Errorf("render template: %w", err)
	}

	subject = fmt.Sprintf("%s weekly report %s - %s", data.Product, data.After, data.Before)
	return subject, buf.String(), nil
}

func (rp *reporter) send(product ProductConfig, subject string, content string) error {
	if len(product.Receivers) == 0 {
		rp.logger.Warn("no receivers configured, skipping send", "product", product.Name)
		return nil
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", rp.smtp.Sender)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(product.Receivers, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=\"utf-8\"\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(content)

	host := rp.smtp.Server
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	auth := smtp.PlainAuth("", rp.smtp.Sender, rp.smtp.Password, host)
	return smtp.SendMail(rp.smtp.Server, auth, rp.smtp.Sender, product.Receivers, msg.Bytes())
}

func (rp *reporter) archiveReport(ctx context.Context, product ProductConfig, data reportData, content string) {
	if rp.archive == nil {
		return
	}
	objectName := fmt.Sprintf("%s/%s/%s.html", product.Name, data.Before, uuid.NewString())
	_, err := rp.archive.PutObject(ctx, rp.bucket, objectName,
		strings.NewReader(content), int64(len(content)),
		minio.PutObjectOptions{ContentType: "text/html"})
	if err != nil {
		rp.logger.Warn("report archive failed", "product", product.Name, "object", objectName, "error", err.Error())
		return
	}
	rp.logger.Info("report archived", "product", product.Name, "object", objectName)
}

func (rp *reporter) run(ctx context.Context, products []ProductConfig, now time.Time) error {
	var failed int
	for _, product := range products {
		logger := rp.logger.With("product", product.Name)
		logger.Info("building weekly report")

		data, err := rp.buildReport(ctx, product, now)
		if err != nil {
			logger.Error("report build failed", "error", err.Error())
			failed++
			continue
		}
		subject, content, err := rp.render(product, data)
		if err != nil {
			logger.Error("report render failed", "error", err.Error())
			failed++
			continue
		}
		if err := rp.send(product, subject, content); err != nil {
			logger.Error("report send failed", "error", err.Error())
			failed++
			continue
		}
		rp.archiveReport(ctx, product, data, content)
		logger.Info("weekly report sent",
			"runs", data.RunCount,
			"tasks", data.TaskCount,
			"failed_tasks", data.FailedCount,
		)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d reports failed", failed, len(products))
	}
	return nil
}
