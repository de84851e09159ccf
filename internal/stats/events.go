package stats

// 事件类型与原有统计表中的 type 列保持一致，历史数据可直接沿用。
const (
	EventStart            = "start"
	EventTypeMapRequest   = "/statistics/info/type_map/"
	EventInfoAllRequest   = "/statistics/info/all/"
	EventDayRequest       = "/statistics/day/"
	EventHourRequest      = "/statistics/hour/"
	EventDelayRequest     = "/statistics/delay/"
	EventConditionRequest = "/condition/mod/"
	EventInfoModRequest   = "/info/mod/"
	EventInfoGameRequest  = "/info/game/"
	EventResourcesRequest = "/list/resources_mods/"
	EventGenresRequest    = "/list/genres/"
	EventTagsRequest      = "/list/tags/"
	EventGamesRequest     = "/list/games/"
	EventModsRequest      = "/list/mods/"
	EventLocalDownload    = "/download/"
	EventModNotFoundLocal = "mod_not_found_local"
	EventFilesSent        = "files_sent"
	EventDamagedMod       = "damaged_mod"
	EventSteamDownload    = "/download/steam/"
	EventSteamError       = "download_from_steam_error"
	EventSteamOK          = "download_from_steam_ok"
	EventUpdatingMod      = "updating_mod"
	EventDocsRedirect     = "/"
)

// DefaultLanguage 是类型名称的默认语言。
const DefaultLanguage = "ru"

var missingTranslation = map[string]string{
	"ru": "Нет перевода 0_о",
	"en": "No translation 0_o",
}

var typeNames = map[string]map[string]string{
	EventStart:            {"ru": "Запусков сервера", "en": "Server starts"},
	EventTypeMapRequest:   {"ru": "Запросов к карте переводов", "en": "Type map requests"},
	EventInfoAllRequest:   {"ru": "Запросов к общей статистической сводке", "en": "Summary statistics requests"},
	EventDayRequest:       {"ru": "Запросов к ежедневной статистике", "en": "Daily statistics requests"},
	EventHourRequest:      {"ru": "Запросов к ежечасовой статистике", "en": "Hourly statistics requests"},
	EventDelayRequest:     {"ru": "Запросов к информации о задержке", "en": "Delay requests"},
	EventConditionRequest: {"ru": "Запросов к состоянию нескольких модов", "en": "Mod condition requests"},
	EventInfoModRequest:   {"ru": "Запросов к информации о модах", "en": "Mod info requests"},
	EventInfoGameRequest:  {"ru": "Запросов к информации об играх", "en": "Game info requests"},
	EventResourcesRequest: {"ru": "Запросов к ресурсам модов", "en": "Mod resource requests"},
	EventGenresRequest:    {"ru": "Запросов к списку жанров", "en": "Genre list requests"},
	EventTagsRequest:      {"ru": "Запросов к списку тегов для модов", "en": "Tag list requests"},
	EventGamesRequest:     {"ru": "Запросов к списку игр", "en": "Game list requests"},
	EventModsRequest:      {"ru": "Запросов к списку модов", "en": "Mod list requests"},
	EventLocalDownload:    {"ru": "Запросов к локальной загрузке", "en": "Local download requests"},
	EventModNotFoundLocal: {"ru": "При запросе к локальному моду, его не было найдено", "en": "Local mod not found"},
	EventFilesSent:        {"ru": "Файлов отправлено с сервера", "en": "Files sent"},
	EventDamagedMod:       {"ru": "Обнаружено поврежденных записей", "en": "Damaged records detected"},
	EventSteamDownload:    {"ru": "Запросов к загрузке со Steam", "en": "Steam download requests"},
	EventSteamError:       {"ru": "Загрузок со Steam окончено провалом", "en": "Failed Steam downloads"},
	EventSteamOK:          {"ru": "Загрузок со Steam прошло успешно", "en": "Successful Steam downloads"},
	EventUpdatingMod:      {"ru": "Модов поставлено на обновление", "en": "Mods queued for update"},
	EventDocsRedirect:     {"ru": "Перенаправлений на документацию", "en": "Documentation redirects"},
}

// TypeMap 返回指定语言的事件名称表；未知语言回退到 DefaultLanguage，
// 缺失的条目使用该语言的占位文本。
func TypeMap(lang string) map[string]string {
	fallback, ok := missingTranslation[lang]
	if !ok {
		lang = DefaultLanguage
		fallback = missingTranslation[lang]
	}
	out := make(map[string]string, len(typeNames))
	for event, names := range typeNames {
		name, ok := names[lang]
		if !ok {
			name = fallback
		}
		out[event] = name
	}
	return out
}
