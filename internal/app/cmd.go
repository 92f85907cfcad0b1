package app

// Command はプロセスの起動モードを表す。
// 1つのバイナリをサブコマンドで切り替えて運用する。
type Command string

const (
	// CommandServe は開示ブローカーAPIサーバーとして起動する。
	CommandServe Command = "serve"
	// CommandWorker は期限切れデータのスイープワーカーとして起動する。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを実行して終了する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck は稼働中サーバーのヘルスチェックを実行して終了する。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// knownCommands はサポートするサブコマンドの集合。
var knownCommands = map[string]Command{
	"serve":       CommandServe,
	"worker":      CommandWorker,
	"migrate":     CommandMigrate,
	"healthcheck": CommandHealthcheck,
}

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeにフォールバックする。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}
	if cmd, ok := knownCommands[args[0]]; ok {
		return cmd
	}
	return CommandServe
}
