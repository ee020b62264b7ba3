package gbx

import (
	"context"
	"fmt"
)

// Typed wrappers around the subset of server and mode-script methods the
// controller uses. Each wrapper is a thin shim over Invoke: argument
// marshaling on the way in, struct field extraction on the way out.

// Str reads a string member of a decoded struct ("" when absent or not a
// string).
func (s Struct) Str(key string) string {
	v, _ := s[key].(string)
	return v
}

// Int reads an integer member of a decoded struct (0 when absent).
func (s Struct) Int(key string) int {
	v, _ := s[key].(int64)
	return int(v)
}

// Bool reads a boolean member of a decoded struct (false when absent).
func (s Struct) Bool(key string) bool {
	v, _ := s[key].(bool)
	return v
}

// PlayerInfo is the server's view of one connected player, as returned by
// GetPlayerList and pushed in PlayerInfoChanged callbacks.
type PlayerInfo struct {
	Login           string
	NickName        string
	PlayerID        int
	TeamID          int
	SpectatorStatus int
	Flags           int
}

// IsPureSpectator reports whether the player currently holds no race slot at
// all. The low digit of SpectatorStatus is the live spectator bit.
func (p PlayerInfo) IsPureSpectator() bool {
	return p.SpectatorStatus%10 == 1
}

func playerInfoFromStruct(st Struct) PlayerInfo {
	return PlayerInfo{
		Login:           st.Str("Login"),
		NickName:        st.Str("NickName"),
		PlayerID:        st.Int("PlayerId"),
		TeamID:          st.Int("TeamId"),
		SpectatorStatus: st.Int("SpectatorStatus"),
		Flags:           st.Int("Flags"),
	}
}

// MapInfo is the server's view of one map file in its rotation.
type MapInfo struct {
	UID        string
	Name       string
	FileName   string
	Author     string
	AuthorTime int // milliseconds
	LapRace    bool
	NbLaps     int
	NbCheckpoints int
}

func mapInfoFromStruct(st Struct) MapInfo {
	return MapInfo{
		UID:           st.Str("UId"),
		Name:          st.Str("Name"),
		FileName:      st.Str("FileName"),
		Author:        st.Str("Author"),
		AuthorTime:    st.Int("AuthorTime"),
		LapRace:       st.Bool("LapRace"),
		NbLaps:        st.Int("NbLaps"),
		NbCheckpoints: st.Int("NbCheckpoints"),
	}
}

// Authenticate identifies the controller to the server under the given
// account. Must be the first call on a fresh connection.
func (c *Client) Authenticate(ctx context.Context, login, password string) error {
	_, err := c.Invoke(ctx, "Authenticate", login, password)
	return err
}

// EnableCallbacks turns the unsolicited callback stream on or off.
func (c *Client) EnableCallbacks(ctx context.Context, enable bool) error {
	_, err := c.Invoke(ctx, "EnableCallbacks", enable)
	return err
}

// SetAPIVersion pins the dedicated server API version this controller was
// written against.
func (c *Client) SetAPIVersion(ctx context.Context, version string) error {
	_, err := c.Invoke(ctx, "SetApiVersion", version)
	return err
}

// GetVersion returns the server name and version strings.
func (c *Client) GetVersion(ctx context.Context) (name, version string, err error) {
	v, err := c.Invoke(ctx, "GetVersion")
	if err != nil {
		return "", "", err
	}
	st, ok := v.(Struct)
	if !ok {
		return "", "", fmt.Errorf("gbx: GetVersion returned %T", v)
	}
	return st.Str("Name"), st.Str("Version"), nil
}

// GetPlayerList fetches up to max player entries starting at offset.
func (c *Client) GetPlayerList(ctx context.Context, max, offset int) ([]PlayerInfo, error) {
	v, err := c.Invoke(ctx, "GetPlayerList", max, offset)
	if err != nil {
		return nil, err
	}
	arr, ok := v.(Array)
	if !ok {
		return nil, fmt.Errorf("gbx: GetPlayerList returned %T", v)
	}
	players := make([]PlayerInfo, 0, len(arr))
	for _, el := range arr {
		st, ok := el.(Struct)
		if !ok {
			return nil, fmt.Errorf("gbx: GetPlayerList entry is %T", el)
		}
		players = append(players, playerInfoFromStruct(st))
	}
	return players, nil
}

// GetMapList fetches up to max map entries starting at offset.
func (c *Client) GetMapList(ctx context.Context, max, offset int) ([]MapInfo, error) {
	v, err := c.Invoke(ctx, "GetMapList", max, offset)
	if err != nil {
		return nil, err
	}
	arr, ok := v.(Array)
	if !ok {
		return nil, fmt.Errorf("gbx: GetMapList returned %T", v)
	}
	maps := make([]MapInfo, 0, len(arr))
	for _, el := range arr {
		st, ok := el.(Struct)
		if !ok {
			return nil, fmt.Errorf("gbx: GetMapList entry is %T", el)
		}
		maps = append(maps, mapInfoFromStruct(st))
	}
	return maps, nil
}

// GetMapInfo resolves the metadata of a map file already on the server.
func (c *Client) GetMapInfo(ctx context.Context, fileName string) (MapInfo, error) {
	v, err := c.Invoke(ctx, "GetMapInfo", fileName)
	if err != nil {
		return MapInfo{}, err
	}
	st, ok := v.(Struct)
	if !ok {
		return MapInfo{}, fmt.Errorf("gbx: GetMapInfo returned %T", v)
	}
	return mapInfoFromStruct(st), nil
}

// AddMap registers a map file with the server.
func (c *Client) AddMap(ctx context.Context, fileName string) error {
	_, err := c.Invoke(ctx, "AddMap", fileName)
	return err
}

// RemoveMap unregisters a map file from the server.
func (c *Client) RemoveMap(ctx context.Context, fileName string) error {
	_, err := c.Invoke(ctx, "RemoveMap", fileName)
	return err
}

// SetNextMapIndex commits the playlist index played after the current map.
func (c *Client) SetNextMapIndex(ctx context.Context, index int) error {
	_, err := c.Invoke(ctx, "SetNextMapIndex", index)
	return err
}

// GetNextMapIndex reads back the server's own choice of next map.
func (c *Client) GetNextMapIndex(ctx context.Context) (int, error) {
	v, err := c.Invoke(ctx, "GetNextMapIndex")
	if err != nil {
		return 0, err
	}
	n, ok := v.(int64)
	if !ok {
		return 0, fmt.Errorf("gbx: GetNextMapIndex returned %T", v)
	}
	return int(n), nil
}

// NextMap skips to the next map immediately.
func (c *Client) NextMap(ctx context.Context) error {
	_, err := c.Invoke(ctx, "NextMap")
	return err
}

// RestartMap replays the current map after the outro.
func (c *Client) RestartMap(ctx context.Context) error {
	_, err := c.Invoke(ctx, "RestartMap")
	return err
}

// ForceSpectator sets a player's spectator mode (0 user-selectable,
// 1 spectator, 2 player, 3 spectator-but-keep-slot).
func (c *Client) ForceSpectator(ctx context.Context, login string, mode int) error {
	_, err := c.Invoke(ctx, "ForceSpectator", login, mode)
	return err
}

// Kick disconnects a player with a message.
func (c *Client) Kick(ctx context.Context, login, reason string) error {
	_, err := c.Invoke(ctx, "Kick", login, reason)
	return err
}

// Blacklist bars a player from rejoining until unblacklisted.
func (c *Client) Blacklist(ctx context.Context, login string) error {
	_, err := c.Invoke(ctx, "BlackList", login)
	return err
}

// Unblacklist lifts a blacklist entry.
func (c *Client) Unblacklist(ctx context.Context, login string) error {
	_, err := c.Invoke(ctx, "UnBlackList", login)
	return err
}

// ChatSend broadcasts a server message to every player.
func (c *Client) ChatSend(ctx context.Context, msg string) error {
	_, err := c.Invoke(ctx, "ChatSendServerMessage", msg)
	return err
}

// ChatSendTo sends a server message to a single login.
func (c *Client) ChatSendTo(ctx context.Context, msg, login string) error {
	_, err := c.Invoke(ctx, "ChatSendServerMessageToLogin", msg, login)
	return err
}

// ChatEnableManualRouting takes over chat distribution; with forward=true the
// controller must re-forward each line it wants visible.
func (c *Client) ChatEnableManualRouting(ctx context.Context, enable, forward bool) error {
	_, err := c.Invoke(ctx, "ChatEnableManualRouting", enable, forward)
	return err
}

// ChatForwardToLogin re-emits a chat line on behalf of a sender.
func (c *Client) ChatForwardToLogin(ctx context.Context, text, sender, dest string) error {
	_, err := c.Invoke(ctx, "ChatForwardToLogin", text, sender, dest)
	return err
}

// SendDisplayManialinkPage pushes widget markup to every player.
func (c *Client) SendDisplayManialinkPage(ctx context.Context, markup string, timeoutMS int, hideOnClick bool) error {
	_, err := c.Invoke(ctx, "SendDisplayManialinkPage", markup, timeoutMS, hideOnClick)
	return err
}

// SendDisplayManialinkPageTo pushes widget markup to one login.
func (c *Client) SendDisplayManialinkPageTo(ctx context.Context, login, markup string, timeoutMS int, hideOnClick bool) error {
	_, err := c.Invoke(ctx, "SendDisplayManialinkPageToLogin", login, markup, timeoutMS, hideOnClick)
	return err
}

// SendHideManialinkPage clears all widget markup for every player.
func (c *Client) SendHideManialinkPage(ctx context.Context) error {
	_, err := c.Invoke(ctx, "SendHideManialinkPage")
	return err
}

// GetModeScriptSettings reads the current mode-script settings struct.
func (c *Client) GetModeScriptSettings(ctx context.Context) (Struct, error) {
	v, err := c.Invoke(ctx, "GetModeScriptSettings")
	if err != nil {
		return nil, err
	}
	st, ok := v.(Struct)
	if !ok {
		return nil, fmt.Errorf("gbx: GetModeScriptSettings returned %T", v)
	}
	return st, nil
}

// SetModeScriptSettings overwrites the given mode-script settings.
func (c *Client) SetModeScriptSettings(ctx context.Context, settings Struct) error {
	_, err := c.Invoke(ctx, "SetModeScriptSettings", settings)
	return err
}

// TriggerModeScriptEvent invokes a script method that takes a single string
// argument.
func (c *Client) TriggerModeScriptEvent(ctx context.Context, method, param string) error {
	_, err := c.Invoke(ctx, "TriggerModeScriptEvent", method, param)
	return err
}

// TriggerModeScriptEventArray invokes a script method with string arguments.
// The script's reply, if any, arrives as a mode-script callback.
func (c *Client) TriggerModeScriptEventArray(ctx context.Context, method string, params ...string) error {
	arr := make(Array, len(params))
	for i, p := range params {
		arr[i] = p
	}
	_, err := c.Invoke(ctx, "TriggerModeScriptEventArray", method, arr)
	return err
}
