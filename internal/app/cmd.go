package app

// Command はfitclubバイナリのサブコマンド。
// 同じイメージを api / worker / migrate の各コンテナで使い分ける。
type Command string

const (
	// CommandServe は会員向けと管理者向けのJSON APIを提供する。
	CommandServe Command = "serve"
	// CommandWorker はブログフィードの取り込みと期限切れお知らせの非公開化を定期実行する。
	// /health と /metrics のみを公開する。
	CommandWorker Command = "worker"
	// CommandMigrate は埋め込みマイグレーションを適用して終了する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はdistrolessコンテナのHEALTHCHECKから呼ばれ、
	// ローカルの /health を叩いて終了コードで結果を返す。
	CommandHealthcheck Command = "healthcheck"
)

var commandDescriptions = map[Command]string{
	CommandServe:       "api",
	CommandWorker:      "blog import and announcement archive",
	CommandMigrate:     "schema migration",
	CommandHealthcheck: "container healthcheck",
}

// ParseCommand は先頭の引数からサブコマンドを決める。
// 引数なしや未知のコマンドはCommandServeとして扱う。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}
	cmd := Command(args[0])
	if _, ok := commandDescriptions[cmd]; !ok {
		return CommandServe
	}
	return cmd
}

// Description は起動ログに出すサブコマンドの役割。
func (c Command) Description() string {
	return commandDescriptions[c]
}

// RequiresConfig は環境変数の読み込み（JWT_SECRETなど必須項目の検証）が必要かを返す。
// healthcheckはSERVER_PORTだけで動くため不要。
func (c Command) RequiresConfig() bool {
	return c != CommandHealthcheck
}
