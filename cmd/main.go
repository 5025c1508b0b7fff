package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/fyerfyer/ocr-proofreader/api"
	"github.com/fyerfyer/ocr-proofreader/api/handler"
	"github.com/fyerfyer/ocr-proofreader/api/middleware"
	"github.com/fyerfyer/ocr-proofreader/config"
	"github.com/fyerfyer/ocr-proofreader/internal/models"
	"github.com/fyerfyer/ocr-proofreader/internal/ocr"
	"github.com/fyerfyer/ocr-proofreader/internal/pagesource"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "proofreader",
	Short:         "Proofread OCR text page by page against the scanned images",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// .env 可选，其中的 PROOF_* 变量覆盖配置文件
		if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to load .env: %w", err)
		}
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the proofreading server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var pagesCmd = &cobra.Command{
	Use:   "pages",
	Short: "List the pages in range with text length, image and OCR state",
	Args:  cobra.NoArgs,
	RunE:  runPages,
}

var ocrCmd = &cobra.Command{
	Use:   "ocr <page>",
	Short: "Recognize one page and store the result",
	Args:  cobra.ExactArgs(1),
	RunE:  runOCR,
}

var slicesCmd = &cobra.Command{
	Use:   "slices <page>",
	Short: "Export the OCR boxes of one page as image slices",
	Args:  cobra.ExactArgs(1),
	RunE:  runSlices,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "Path to config file")

	ocrCmd.Flags().String("engine", ocr.EngineRemote, "OCR engine (remote/local)")
	ocrCmd.Flags().Bool("force", false, "Recognize again even if a result exists")

	rootCmd.AddCommand(serveCmd, pagesCmd, ocrCmd, slicesCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		middleware.GetLogger().WithError(err).Error("Command failed")
		var cfgErr *config.ConfigError
		if errors.As(err, &cfgErr) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// runServe 启动HTTP服务，收到终止信号后优雅关闭
func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, configPath, true)
	if err != nil {
		return err
	}
	defer a.Close()

	// 设置Gin模式
	gin.SetMode(a.cfg.Server.Mode)
	logger := a.logger
	logger.Info("Starting OCR proofreader...")

	// 监听两侧文本文件的外部修改
	go func() {
		if err := a.service.Watch(ctx); err != nil {
			logger.WithError(err).Warn("Text file watcher stopped")
		}
	}()

	// 初始化API处理器
	handlers := api.Handlers{
		Proofread: handler.NewProofreadHandler(a.service),
		OCR:       handler.NewOCRHandler(a.service),
		Help:      handler.NewHelpHandler(),
	}
	if a.queue != nil {
		handlers.Task = handler.NewTaskHandler(a.queue, a.cfg.Path())
	}

	// 设置路由
	r := api.SetupRouter(handlers, a.metrics)

	// 启动HTTP服务器
	addr := fmt.Sprintf("%s:%d", a.cfg.Server.Host, a.cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Server is running on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// 等待终止信号
	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("failed to start server: %w", err)
	}
	logger.Info("Shutting down server...")

	// 创建带超时的上下文
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("Server exited")
	return nil
}

// runPages 打印范围内每一页的概况
func runPages(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, configPath, false)
	if err != nil {
		return err
	}
	defer a.Close()

	start, end := a.viewer.Range()
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%-6s %-8s %-8s %-8s %-6s %s\n", "PAGE", "PHYSICAL", "LEFT", "RIGHT", "OCR", "IMAGE")
	for page := start; page <= end; page++ {
		image := "ok"
		if _, err := a.viewer.Image(ctx, page); err != nil {
			image = err.Error()
		}
		hasOCR := "-"
		if a.ocrStore.Exists(ctx, page) {
			hasOCR = "yes"
		}
		fmt.Fprintf(out, "%-6d %-8d %-8d %-8d %-6s %s\n",
			page,
			pagesource.PhysicalIndex(page, a.cfg.PageOffset),
			utf8.RuneCountInString(a.viewer.Text(ctx, models.SideLeft, page)),
			utf8.RuneCountInString(a.viewer.Text(ctx, models.SideRight, page)),
			hasOCR,
			image,
		)
	}
	return nil
}

// runOCR 同步识别一页
func runOCR(cmd *cobra.Command, args []string) error {
	page, err := parsePage(args[0])
	if err != nil {
		return err
	}
	engine, _ := cmd.Flags().GetString("engine")
	force, _ := cmd.Flags().GetBool("force")

	ctx := cmd.Context()
	a, err := newApp(ctx, configPath, false)
	if err != nil {
		return err
	}
	defer a.Close()

	job, err := a.service.RequestOCR(ctx, page, engine, force)
	if err != nil {
		return err
	}

	a.logger.WithFields(logrus.Fields{
		"job_id": job.ID,
		"page":   job.Page,
		"engine": job.Engine,
		"status": job.Status,
		"stale":  job.Stale,
	}).Info("OCR finished")

	if job.Status == models.OcrJobFailed {
		return fmt.Errorf("ocr failed for page %d: %s", page, job.Error)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "page %d: %s\n", job.Page, job.Status)
	return nil
}

// runSlices 导出一页的切图
func runSlices(cmd *cobra.Command, args []string) error {
	page, err := parsePage(args[0])
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, configPath, false)
	if err != nil {
		return err
	}
	defer a.Close()

	keys, err := a.service.ExportSlices(ctx, page)
	if err != nil {
		return err
	}
	for _, key := range keys {
		fmt.Fprintln(cmd.OutOrStdout(), key)
	}
	return nil
}

func parsePage(s string) (int, error) {
	page, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid page %q: %w", s, err)
	}
	return page, nil
}
