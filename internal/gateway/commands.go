package gateway

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"whatsapp-console/internal/conversation"
	"whatsapp-console/internal/prompts"
	"whatsapp-console/internal/schedule"
)

// Messages sent with error events.
const (
	msgUnauthenticated = "Não autenticado"
	msgBadCredentials  = "Credenciais inválidas"
	msgBadSession      = "Sessão inválida"
	msgNotFound        = "Arquivo não encontrado"
	msgExists          = "Arquivo já existe"
	msgProtected       = "Este arquivo é protegido"
	msgBadName         = "Nome de arquivo inválido"
	msgSaveFailed      = "Erro ao salvar"
	msgCreateFailed    = "Erro ao criar arquivo"
	msgDeleteFailed    = "Erro ao excluir arquivo"
	msgScheduleInvalid = "Dados de agendamento inválidos"
	msgScheduleFailed  = "Erro interno"
	msgListFailed      = "Erro ao carregar lista"
	msgConvFailed      = "Erro ao carregar conversas"
	msgExportFailed    = "Erro ao exportar"
	msgClearFailed     = "Erro ao limpar conversas"
	msgEmptyPrompt     = "Prompt vazio"
)

type request struct {
	conn *conn
	data json.RawMessage
	ack  *int
}

func (r request) decode(v any) error {
	if len(r.data) == 0 || string(r.data) == "null" {
		return nil
	}
	return json.Unmarshal(r.data, v)
}

func (r request) emit(event string, data any) {
	if err := r.conn.emit(event, data); err != nil {
		r.conn.log.Warnf("Failed to send %s to %s: %v", event, r.conn.id, err)
	}
}

// reply answers through the ack callback when the client asked for one.
func (r request) reply(event string, data any) {
	if r.ack != nil {
		if err := r.conn.ack(*r.ack, data); err != nil {
			r.conn.log.Warnf("Failed to ack %s on %s: %v", event, r.conn.id, err)
		}
		return
	}
	r.emit(event, data)
}

type command struct {
	// public commands run without an established session
	public bool
	// denied is called instead of run for unauthenticated callers
	denied func(request)
	run    func(request)
}

func deny(event string) func(request) {
	return func(r request) { r.emit(event, msgUnauthenticated) }
}

func (s *Server) commandTable() map[string]command {
	return map[string]command{
		"login":                   {public: true, run: s.login},
		"validar_sessao":          {public: true, run: s.validateSession},
		"listar_arquivos_prompts": {denied: func(r request) { r.emit("arquivos_lista", []string{}) }, run: s.listFiles},
		"carregar_arquivo":        {denied: deny("erro_arquivo"), run: s.loadFile},
		"salvar_arquivo":          {denied: deny("erro_salvar"), run: s.saveFile},
		"criar_arquivo":           {denied: deny("erro_criar"), run: s.createFile},
		"excluir_arquivo":         {denied: deny("erro_excluir"), run: s.deleteFile},
		"salvar_prompt":           {denied: deny("prompt_erro"), run: s.savePrompt},
		"agendar_mensagem":        {denied: deny("erro_agendamento"), run: s.scheduleMessage},
		"listar_agendamentos":     {denied: deny("agendamentos_erro"), run: s.listSchedules},
		"listar_conversas":        {denied: deny("conversas_erro"), run: s.listConversations},
		"exportar_conversas": {
			denied: func(r request) { r.reply("exportar_conversas", exportError{Error: msgUnauthenticated}) },
			run:    s.exportConversations,
		},
		"limpar_conversas": {denied: deny("conversas_erro"), run: s.clearConversations},
	}
}

func (s *Server) dispatch(c *conn, f Frame) {
	cmd, ok := s.commands[f.Event]
	if !ok {
		s.log.Debugf("Unknown event %q from %s", f.Event, c.id)
		return
	}
	req := request{conn: c, data: f.Data, ack: f.Ack}
	if !cmd.public && !s.deps.Sessions.IsAuthenticated(c.id) {
		s.log.Warnf("Unauthenticated %s from %s", f.Event, c.id)
		cmd.denied(req)
		return
	}
	cmd.run(req)
}

type loginRequest struct {
	Username string `json:"usuario"`
	Password string `json:"senha"`
}

type loginResponse struct {
	Token string `json:"token"`
}

func (s *Server) login(r request) {
	var in loginRequest
	if err := r.decode(&in); err != nil || !s.deps.Credentials.Validate(in.Username, in.Password) {
		s.log.Warnf("Failed login for %q on %s", in.Username, r.conn.id)
		r.emit("login_erro", msgBadCredentials)
		return
	}
	s.deps.Sessions.Establish(r.conn.id, in.Username)
	r.emit("login_ok", loginResponse{Token: s.deps.Tokens.Issue(in.Username)})
	r.emit("sessao_valida", nil)
	s.log.Infof("Login: %s on %s", in.Username, r.conn.id)
	s.pushStatus(r)
}

func (s *Server) validateSession(r request) {
	var token string
	if err := r.decode(&token); err != nil {
		r.emit("login_erro", msgBadSession)
		return
	}
	username, err := s.deps.Tokens.Verify(token)
	if err != nil {
		s.log.Warnf("Rejected session token on %s: %v", r.conn.id, err)
		r.emit("login_erro", msgBadSession)
		return
	}
	s.deps.Sessions.Establish(r.conn.id, username)
	r.emit("sessao_valida", nil)
	s.log.Infof("Session resumed: %s on %s", username, r.conn.id)
	s.pushStatus(r)
}

// pushStatus tells a newly authenticated console where WhatsApp stands.
func (s *Server) pushStatus(r request) {
	if s.deps.WhatsApp == nil {
		return
	}
	if s.deps.WhatsApp.IsReady() {
		r.emit("ready", nil)
	} else if qr := s.deps.WhatsApp.CurrentQR(); qr != "" {
		r.emit("qr", qr)
	}
}

type fileRequest struct {
	Name    string `json:"nome"`
	Content string `json:"conteudo"`
}

type fileResponse struct {
	Name    string  `json:"nome"`
	Content *string `json:"conteudo,omitempty"`
}

func (s *Server) listFiles(r request) {
	names, err := s.deps.Files.List()
	if err != nil {
		s.log.Errorf("Failed to list files: %v", err)
		names = []string{}
	}
	r.emit("arquivos_lista", names)
}

func (s *Server) loadFile(r request) {
	var in fileRequest
	if err := r.decode(&in); err != nil {
		r.emit("erro_arquivo", msgBadName)
		return
	}
	content, err := s.deps.Files.Load(in.Name)
	if err != nil {
		s.log.Warnf("Failed to load %q: %v", in.Name, err)
		if errors.Is(err, prompts.ErrBadName) {
			r.emit("erro_arquivo", msgBadName)
			return
		}
		r.emit("erro_arquivo", msgNotFound)
		return
	}
	r.emit("conteudo_arquivo", fileResponse{Name: in.Name, Content: &content})
}

func (s *Server) saveFile(r request) {
	var in fileRequest
	if err := r.decode(&in); err != nil {
		r.emit("erro_salvar", msgSaveFailed)
		return
	}
	if err := s.deps.Files.Save(in.Name, in.Content); err != nil {
		s.log.Errorf("Failed to save %q: %v", in.Name, err)
		if errors.Is(err, prompts.ErrBadName) {
			r.emit("erro_salvar", msgBadName)
			return
		}
		r.emit("erro_salvar", msgSaveFailed)
		return
	}
	r.emit("arquivo_salvo", fileResponse{Name: in.Name})
}

func (s *Server) createFile(r request) {
	var in fileRequest
	if err := r.decode(&in); err != nil {
		r.emit("erro_criar", msgCreateFailed)
		return
	}
	if err := s.deps.Files.Create(in.Name, in.Content); err != nil {
		s.log.Warnf("Failed to create %q: %v", in.Name, err)
		switch {
		case errors.Is(err, prompts.ErrExists):
			r.emit("erro_criar", msgExists)
		case errors.Is(err, prompts.ErrBadName):
			r.emit("erro_criar", msgBadName)
		default:
			r.emit("erro_criar", msgCreateFailed)
		}
		return
	}
	r.emit("arquivo_criado", fileResponse{Name: in.Name})
}

func (s *Server) deleteFile(r request) {
	var in fileRequest
	if err := r.decode(&in); err != nil {
		r.emit("erro_excluir", msgDeleteFailed)
		return
	}
	if err := s.deps.Files.Delete(in.Name); err != nil {
		s.log.Warnf("Failed to delete %q: %v", in.Name, err)
		switch {
		case errors.Is(err, prompts.ErrProtected):
			r.emit("erro_excluir", msgProtected)
		case errors.Is(err, prompts.ErrBadName):
			r.emit("erro_excluir", msgBadName)
		default:
			r.emit("erro_excluir", msgDeleteFailed)
		}
		return
	}
	r.emit("arquivo_excluido", fileResponse{Name: in.Name})
}

type promptRequest struct {
	Prompt string `json:"prompt"`
}

func (s *Server) savePrompt(r request) {
	var in promptRequest
	if err := r.decode(&in); err != nil {
		r.emit("prompt_erro", msgSaveFailed)
		return
	}
	if err := s.deps.Files.AppendPrompt(in.Prompt); err != nil {
		s.log.Errorf("Failed to save prompt: %v", err)
		if errors.Is(err, prompts.ErrEmptyInput) {
			r.emit("prompt_erro", msgEmptyPrompt)
			return
		}
		r.emit("prompt_erro", msgSaveFailed)
		return
	}
	user, _ := s.deps.Sessions.Username(r.conn.id)
	s.log.Infof("Prompt saved by %s", user)
	r.emit("prompt_salvo", nil)
}

type scheduleRequest struct {
	Number string `json:"numero"`
	Body   string `json:"mensagem"`
	Date   string `json:"data"`
	Time   string `json:"hora"`
}

type scheduleResponse struct {
	Key string `json:"arquivo"`
}

func (s *Server) scheduleMessage(r request) {
	var in scheduleRequest
	if err := r.decode(&in); err != nil {
		r.emit("erro_agendamento", msgScheduleInvalid)
		return
	}
	key, err := s.deps.Schedules.Create(in.Number, in.Date, in.Time, in.Body)
	if err != nil {
		s.log.Errorf("Failed to schedule message: %v", err)
		if errors.Is(err, schedule.ErrInvalid) {
			r.emit("erro_agendamento", msgScheduleInvalid)
			return
		}
		r.emit("erro_agendamento", msgScheduleFailed)
		return
	}
	s.log.Infof("Message scheduled: %s", key)
	r.emit("mensagem_agendada", scheduleResponse{Key: key})
}

func (s *Server) listSchedules(r request) {
	msgs, err := s.deps.Schedules.List()
	if err != nil {
		s.log.Errorf("Failed to list schedules: %v", err)
		r.emit("agendamentos_erro", msgListFailed)
		return
	}
	if msgs == nil {
		msgs = []schedule.Message{}
	}
	r.emit("agendamentos_lista", msgs)
}

// flexInt accepts a JSON number or a numeric string.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		// unparsable limits fall back to the default
		*f = 0
		return nil
	}
	*f = flexInt(n)
	return nil
}

type conversationRequest struct {
	Number string  `json:"filtroNumero"`
	Limit  flexInt `json:"limite"`
	Mode   string  `json:"modo"`
}

type conversationList struct {
	Items []conversation.Record `json:"conversas"`
	Mode  string                `json:"modo"`
	Total int                   `json:"total"`
}

func (s *Server) listConversations(r request) {
	var in conversationRequest
	if err := r.decode(&in); err != nil {
		r.emit("conversas_erro", msgConvFailed)
		return
	}
	mode := in.Mode
	if mode == "" {
		mode = conversation.ModeAll
	}
	items, err := s.deps.Conversations.Query(conversation.QueryParams{Limit: int(in.Limit), Number: in.Number, Mode: mode})
	if err != nil {
		s.log.Errorf("Failed to list conversations: %v", err)
		r.emit("conversas_erro", msgConvFailed)
		return
	}
	r.emit("conversas_lista", conversationList{Items: items, Mode: mode, Total: len(items)})
}

type exportResult struct {
	Success bool                  `json:"success"`
	Items   []conversation.Record `json:"conversas"`
	Total   int                   `json:"total"`
}

type exportError struct {
	Error string `json:"erro"`
}

func (s *Server) exportConversations(r request) {
	var in conversationRequest
	if err := r.decode(&in); err != nil {
		r.reply("exportar_conversas", exportError{Error: msgExportFailed})
		return
	}
	items, err := s.deps.Conversations.Query(conversation.QueryParams{Limit: int(in.Limit), Number: in.Number, Mode: conversation.ModeAll})
	if err != nil {
		s.log.Errorf("Failed to export conversations: %v", err)
		r.reply("exportar_conversas", exportError{Error: msgExportFailed})
		return
	}
	r.reply("exportar_conversas", exportResult{Success: true, Items: items, Total: len(items)})
}

func (s *Server) clearConversations(r request) {
	if err := s.deps.Conversations.Clear(); err != nil {
		s.log.Errorf("Failed to clear conversations: %v", err)
		r.emit("conversas_erro", msgClearFailed)
		return
	}
	user, _ := s.deps.Sessions.Username(r.conn.id)
	s.log.Infof("Conversations cleared by %s", user)
	r.emit("conversas_limpas", nil)
}
