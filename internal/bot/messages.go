package bot

// Reply texts
const (
	msgWelcome          = "Добавь меня в группу или перешли мне сообщение"
	msgCommands         = "/login - войти в Яндекс Облако\n/folder - выбрать каталог\n/logout - выйти"
	msgChatNotPermitted = "Чат с ID %d не в списке разрешенных"
	msgTooLong          = "Слишком длинное сообщение"
	msgTooLarge         = "Слишком большой файл"
	msgNothingHeard     = "Не удалось распознать речь"
	msgDownloadFailed   = "Не удалось скачать сообщение"
	msgCredentialFailed = "Не удалось получить доступ к Яндекс Облаку"
	msgSessionFailed    = "Не удалось загрузить настройки чата"

	msgOAuthDisabled  = "Вход через Яндекс не настроен"
	msgLoginPrompt    = "Чтобы распознавать сообщения от имени своего облака, войдите в Яндекс:"
	msgLoginButton    = "Войти через Яндекс"
	msgLoginFailed    = "Не удалось начать вход"
	msgLoggedOut      = "Вы вышли из аккаунта"
	msgLogoutFailed   = "Не удалось выйти из аккаунта"
	msgNotAuthorized  = "Сначала выполните /login"
	msgPickFolder     = "Выберите каталог для распознавания:"
	msgNoFolders      = "Нет доступных каталогов"
	msgListFailed     = "Не удалось получить список каталогов"
	msgFolderSelected = "Выбран каталог %s"
	msgFolderFailed   = "Не удалось выбрать каталог"
	msgAuthorized     = "Авторизация прошла успешно"
)
