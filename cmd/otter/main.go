package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dushixiang/otter/internal/app"
	"github.com/spf13/cobra"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:           "otter",
		Short:         "轻量级指标数据平台",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "配置文件路径")

	rootCmd.AddCommand(serveCmd(), etlCmd(), enqueueCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// signalContext 返回收到退出信号时取消的上下文
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "启动HTTP服务、任务消费者与行情抽取调度器",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signalContext()
			defer stop()
			return a.RunServe(ctx)
		},
	}
}

func etlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "etl",
		Short: "立即执行一次行情抽取",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signalContext()
			defer stop()

			rows, err := a.RunETL(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("本次抽取写入 %d 条记录\n", rows)
			return nil
		},
	}
}

func enqueueCmd() *cobra.Command {
	var metric, username, addr string
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "向运行中的服务投递一个指标汇总任务",
		RunE: func(cmd *cobra.Command, args []string) error {
			if metric == "" {
				return fmt.Errorf("必须指定 --metric")
			}
			a, err := app.New(configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signalContext()
			defer stop()

			taskID, err := a.SubmitSummary(ctx, addr, username, metric)
			if err != nil {
				return err
			}
			fmt.Printf("任务已入队: %s\n", taskID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&metric, "metric", "m", "", "指标名称")
	cmd.Flags().StringVarP(&username, "user", "u", "", "投递任务使用的用户名（默认取配置中的第一个用户）")
	cmd.Flags().StringVarP(&addr, "addr", "a", "", "服务地址，如 127.0.0.1:8080（默认取配置中的监听地址）")
	return cmd
}
